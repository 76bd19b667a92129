package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vigil-mod/vigil/policy"
)

type QueueItemRow struct {
	ID       string `gorm:"primarykey"`
	GroupID  string `gorm:"index:idx_queue_group"`
	UserID   string
	Severity int
	// full decision serialized as JSON for reviewer context
	DecisionJSON []byte

	Status     string `gorm:"index:idx_queue_status"`
	ClaimedBy  string
	ClaimedAt  *time.Time
	Resolution string
	ResolvedBy string
	ResolvedAt *time.Time

	EnqueuedAt time.Time
	ExpiresAt  time.Time `gorm:"index:idx_queue_expiry"`
}

// Database-backed queue. Claim exclusivity relies on a conditional UPDATE
// guarded by the current status, so it holds across processes, not just
// goroutines.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&QueueItemRow{}); err != nil {
		return nil, fmt.Errorf("migrating queue table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func toRow(it *Item) (*QueueItemRow, error) {
	decJSON, err := json.Marshal(it.Decision)
	if err != nil {
		return nil, fmt.Errorf("serializing decision: %w", err)
	}
	return &QueueItemRow{
		ID:           it.ID,
		GroupID:      it.GroupID,
		UserID:       it.UserID,
		Severity:     it.Decision.Action.Severity(),
		DecisionJSON: decJSON,
		Status:       string(it.Status),
		ClaimedBy:    it.ClaimedBy,
		ClaimedAt:    it.ClaimedAt,
		Resolution:   string(it.Resolution),
		ResolvedBy:   it.ResolvedBy,
		ResolvedAt:   it.ResolvedAt,
		EnqueuedAt:   it.EnqueuedAt,
		ExpiresAt:    it.ExpiresAt,
	}, nil
}

func fromRow(row *QueueItemRow) (*Item, error) {
	var dec policy.Decision
	if err := json.Unmarshal(row.DecisionJSON, &dec); err != nil {
		return nil, fmt.Errorf("deserializing decision: %w", err)
	}
	return &Item{
		ID:         row.ID,
		GroupID:    row.GroupID,
		UserID:     row.UserID,
		Decision:   &dec,
		Status:     Status(row.Status),
		ClaimedBy:  row.ClaimedBy,
		ClaimedAt:  row.ClaimedAt,
		Resolution: Resolution(row.Resolution),
		ResolvedBy: row.ResolvedBy,
		ResolvedAt: row.ResolvedAt,
		EnqueuedAt: row.EnqueuedAt,
		ExpiresAt:  row.ExpiresAt,
	}, nil
}

func (s *GormStore) Enqueue(ctx context.Context, item *Item) error {
	row, err := toRow(item)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	if err != nil {
		return fmt.Errorf("enqueueing item %s: %w", item.ID, err)
	}
	queueDepthGauge.Inc()
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Item, error) {
	var row QueueItemRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("loading queue item %s: %w", id, err)
	}
	return fromRow(&row)
}

func (s *GormStore) List(ctx context.Context, groupID string, limit int) ([]*Item, error) {
	q := s.db.WithContext(ctx).
		Where("group_id = ? AND status IN ?", groupID, []string{string(StatusPending), string(StatusClaimed)}).
		Order("severity DESC, enqueued_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []QueueItemRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing queue for group %s: %w", groupID, err)
	}
	out := make([]*Item, 0, len(rows))
	for i := range rows {
		it, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *GormStore) Claim(ctx context.Context, id, reviewer string) (*Item, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&QueueItemRow{}).
		Where("id = ? AND status = ?", id, string(StatusPending)).
		Updates(map[string]any{
			"status":     string(StatusClaimed),
			"claimed_by": reviewer,
			"claimed_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("claiming queue item %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		claimCount.WithLabelValues("conflict").Inc()
		return nil, ErrClaimConflict
	}
	claimCount.WithLabelValues("ok").Inc()
	return s.Get(ctx, id)
}

func (s *GormStore) Resolve(ctx context.Context, id, reviewer string, res Resolution) (*Item, error) {
	updates := map[string]any{}
	now := time.Now().UTC()
	if res == ResolutionEscalated {
		updates["status"] = string(StatusPending)
		updates["claimed_by"] = ""
		updates["claimed_at"] = nil
	} else {
		updates["status"] = string(StatusResolved)
		updates["resolution"] = string(res)
		updates["resolved_by"] = reviewer
		updates["resolved_at"] = now
	}
	tx := s.db.WithContext(ctx).Model(&QueueItemRow{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, string(StatusClaimed), reviewer).
		Updates(updates)
	if tx.Error != nil {
		return nil, fmt.Errorf("resolving queue item %s: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotClaimant
	}
	if res != ResolutionEscalated {
		queueDepthGauge.Dec()
		resolveCount.WithLabelValues(string(res)).Inc()
	}
	return s.Get(ctx, id)
}

func (s *GormStore) Expire(ctx context.Context, now time.Time) ([]*Item, error) {
	var rows []QueueItemRow
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?", []string{string(StatusPending), string(StatusClaimed)}, now).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("scanning for expired items: %w", err)
	}
	var out []*Item
	for i := range rows {
		tx := s.db.WithContext(ctx).Model(&QueueItemRow{}).
			Where("id = ? AND status = ?", rows[i].ID, rows[i].Status).
			Update("status", string(StatusExpired))
		if tx.Error != nil {
			return out, fmt.Errorf("expiring queue item %s: %w", rows[i].ID, tx.Error)
		}
		if tx.RowsAffected == 0 {
			// raced with a claim or resolve; leave it alone
			continue
		}
		rows[i].Status = string(StatusExpired)
		it, err := fromRow(&rows[i])
		if err != nil {
			return out, err
		}
		queueDepthGauge.Dec()
		expireCount.Inc()
		out = append(out, it)
	}
	return out, nil
}
