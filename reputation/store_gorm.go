package reputation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReputationRow struct {
	ID        uint   `gorm:"primarykey"`
	GroupID   string `gorm:"index:idx_reputation_key,unique"`
	UserID    string `gorm:"index:idx_reputation_key,unique"`
	Score     int
	UpdatedAt time.Time
}

type ReputationHistoryRow struct {
	ID        uint   `gorm:"primarykey"`
	GroupID   string `gorm:"index:idx_rep_history_key"`
	UserID    string `gorm:"index:idx_rep_history_key"`
	Delta     int
	Reason    string
	Actor     string
	CreatedAt time.Time
}

// Database-backed store. Adjust serializes per key with an in-process key
// mutex and runs the read-modify-write in a transaction, so deltas compose
// under concurrency and survive restarts. Database errors map to
// ErrStoreUnavailable so callers can fail closed.
type GormStore struct {
	db    *gorm.DB
	locks *xsync.MapOf[string, *sync.Mutex]
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ReputationRow{}, &ReputationHistoryRow{}); err != nil {
		return nil, fmt.Errorf("migrating reputation tables: %w", err)
	}
	return &GormStore{
		db:    db,
		locks: xsync.NewMapOf[string, *sync.Mutex](),
	}, nil
}

func (s *GormStore) keyLock(groupID, userID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrCompute(repKey(groupID, userID), func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return mu
}

func (s *GormStore) Get(ctx context.Context, groupID, userID string) (*Score, error) {
	var row ReputationRow
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// first sight: persist the neutral default so history attaches to a row
		row = ReputationRow{GroupID: groupID, UserID: userID, Score: DefaultScore, UpdatedAt: time.Now().UTC()}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.loadScore(ctx, row)
}

func (s *GormStore) loadScore(ctx context.Context, row ReputationRow) (*Score, error) {
	var hist []ReputationHistoryRow
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", row.GroupID, row.UserID).
		Order("id ASC").
		Find(&hist).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	out := &Score{
		GroupID:   row.GroupID,
		UserID:    row.UserID,
		Score:     row.Score,
		Tier:      TierForScore(row.Score),
		UpdatedAt: row.UpdatedAt,
	}
	for _, h := range hist {
		out.History = append(out.History, HistoryEntry{
			Delta:     h.Delta,
			Reason:    h.Reason,
			Actor:     h.Actor,
			Timestamp: h.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) Adjust(ctx context.Context, groupID, userID string, delta int, reason, actor string) (*Score, error) {
	mu := s.keyLock(groupID, userID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	var row ReputationRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = ReputationRow{GroupID: groupID, UserID: userID, Score: DefaultScore}
		} else if err != nil {
			return err
		}
		row.Score = clampScore(row.Score + delta)
		row.UpdatedAt = now
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&ReputationHistoryRow{
			GroupID:   groupID,
			UserID:    userID,
			Delta:     delta,
			Reason:    reason,
			Actor:     actor,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.loadScore(ctx, row)
}
