// Package event persists the decision audit trail and delivers enforcement
// actions and notifications to the outside world.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vigil-mod/vigil/feedback"
	"github.com/vigil-mod/vigil/policy"
)

// AuditLog is the append-only record of everything the pipeline decided and
// every reviewer resolution. It doubles as the dedupe source: a record ID
// with a stored decision is never re-analyzed.
type AuditLog interface {
	RecordDecision(ctx context.Context, dec *policy.Decision) error
	GetDecision(ctx context.Context, recordID string) (*policy.Decision, error)
	RecordFeedback(ctx context.Context, evt *feedback.FeedbackEvent) error
}

var ErrDecisionNotFound = errors.New("no decision recorded")

// logDecision emits the canonical one-line-per-decision log entry.
func logDecision(logger *slog.Logger, dec *policy.Decision) {
	rule := ""
	if dec.TriggeringRule != nil {
		rule = *dec.TriggeringRule
	}
	logger.Info("decision",
		"record", dec.ContentRecordID,
		"group", dec.GroupID,
		"user", dec.UserID,
		"action", dec.Action,
		"rule", rule,
		"confidence", dec.AggregateConfidence,
		"review", dec.RequiresReview,
		"shortCircuit", dec.ShortCircuit,
		"partial", dec.PartialAnalysis,
		"repDelta", dec.ReputationDelta,
	)
}

// MemAuditLog keeps the trail in memory, for tests and ephemeral runs.
type MemAuditLog struct {
	Logger *slog.Logger

	mu        sync.Mutex
	decisions map[string]*policy.Decision
	feedbacks []*feedback.FeedbackEvent
}

func NewMemAuditLog(logger *slog.Logger) *MemAuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemAuditLog{
		Logger:    logger,
		decisions: make(map[string]*policy.Decision),
	}
}

var _ AuditLog = (*MemAuditLog)(nil)

func (l *MemAuditLog) RecordDecision(ctx context.Context, dec *policy.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.decisions[dec.ContentRecordID]; ok && !dec.SupersedesRecordDecision {
		return fmt.Errorf("decision already recorded for %s (action %s)", dec.ContentRecordID, prev.Action)
	}
	l.decisions[dec.ContentRecordID] = dec
	logDecision(l.Logger, dec)
	return nil
}

func (l *MemAuditLog) GetDecision(ctx context.Context, recordID string) (*policy.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dec, ok := l.decisions[recordID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	return dec, nil
}

func (l *MemAuditLog) RecordFeedback(ctx context.Context, evt *feedback.FeedbackEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feedbacks = append(l.feedbacks, evt)
	return nil
}

type DecisionRow struct {
	RecordID string `gorm:"primarykey"`
	GroupID  string `gorm:"index"`
	UserID   string
	Action   string
	Payload  []byte
	// monotonically increasing per record; superseding decisions bump it
	Revision  int
	CreatedAt time.Time
}

type FeedbackRow struct {
	ID        uint   `gorm:"primarykey"`
	RecordID  string `gorm:"index"`
	GroupID   string
	Payload   []byte
	CreatedAt time.Time
}

// GormAuditLog persists the trail to a database.
type GormAuditLog struct {
	Logger *slog.Logger
	db     *gorm.DB
}

var _ AuditLog = (*GormAuditLog)(nil)

func NewGormAuditLog(logger *slog.Logger, db *gorm.DB) (*GormAuditLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&DecisionRow{}, &FeedbackRow{}); err != nil {
		return nil, fmt.Errorf("migrating audit tables: %w", err)
	}
	return &GormAuditLog{Logger: logger, db: db}, nil
}

func (l *GormAuditLog) RecordDecision(ctx context.Context, dec *policy.Decision) error {
	payload, err := json.Marshal(dec)
	if err != nil {
		return fmt.Errorf("serializing decision: %w", err)
	}
	row := DecisionRow{
		RecordID:  dec.ContentRecordID,
		GroupID:   dec.GroupID,
		UserID:    dec.UserID,
		Action:    string(dec.Action),
		Payload:   payload,
		Revision:  1,
		CreatedAt: dec.CreatedAt,
	}
	q := l.db.WithContext(ctx)
	if dec.SupersedesRecordDecision {
		q = q.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"action":   row.Action,
				"payload":  row.Payload,
				"revision": gorm.Expr("revision + 1"),
			}),
		})
	}
	if err := q.Create(&row).Error; err != nil {
		return fmt.Errorf("recording decision for %s: %w", dec.ContentRecordID, err)
	}
	logDecision(l.Logger, dec)
	return nil
}

func (l *GormAuditLog) GetDecision(ctx context.Context, recordID string) (*policy.Decision, error) {
	var row DecisionRow
	err := l.db.WithContext(ctx).First(&row, "record_id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDecisionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("loading decision for %s: %w", recordID, err)
	}
	var dec policy.Decision
	if err := json.Unmarshal(row.Payload, &dec); err != nil {
		return nil, fmt.Errorf("deserializing decision for %s: %w", recordID, err)
	}
	return &dec, nil
}

func (l *GormAuditLog) RecordFeedback(ctx context.Context, evt *feedback.FeedbackEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("serializing feedback event: %w", err)
	}
	row := FeedbackRow{
		RecordID:  evt.ContentRecordID,
		GroupID:   evt.GroupID,
		Payload:   payload,
		CreatedAt: evt.CreatedAt,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("recording feedback for %s: %w", evt.ContentRecordID, err)
	}
	return nil
}
