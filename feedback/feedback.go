// Package feedback closes the moderation loop: reviewer resolutions revert
// wrong penalties and reweight the analyzers that caused them.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-mod/vigil/countstore"
	"github.com/vigil-mod/vigil/queue"
	"github.com/vigil-mod/vigil/reputation"
)

// counter namespaces in the count store
const (
	counterConfirmed = "analyzer-confirmed"
	counterFalsePos  = "analyzer-falsepos"
)

// FeedbackEvent records one reviewer resolution, for the audit trail and
// webhook notifications.
type FeedbackEvent struct {
	ContentRecordID string           `json:"content_record_id"`
	GroupID         string           `json:"group_id"`
	UserID          string           `json:"user_id"`
	Resolution      queue.Resolution `json:"resolution"`
	Reviewer        string           `json:"reviewer"`
	// analyzers credited or debited by this resolution
	Analyzers []string `json:"analyzers,omitempty"`
	// reputation delta applied by this resolution (the revert, if any)
	ReputationDelta int       `json:"reputation_delta,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Loop applies resolved queue items. A false positive reverts exactly the
// reputation delta the original decision applied, and debits every analyzer
// that contributed to the decision; a confirmation credits them.
type Loop struct {
	Logger     *slog.Logger
	Reputation reputation.Store
	Counts     countstore.CountStore
}

func NewLoop(logger *slog.Logger, rep reputation.Store, counts countstore.CountStore) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{Logger: logger, Reputation: rep, Counts: counts}
}

// contributingAnalyzers returns analyzers whose results carried nonzero
// confidence; zero-confidence placeholders from failures are not blamed.
func contributingAnalyzers(it *queue.Item) []string {
	seen := make(map[string]bool)
	var out []string
	for _, res := range it.Decision.Results {
		if res.Confidence <= 0 || seen[res.Analyzer] {
			continue
		}
		seen[res.Analyzer] = true
		out = append(out, res.Analyzer)
	}
	return out
}

// Apply processes one resolved queue item and returns the feedback event.
// Escalations and expiries carry no feedback.
func (l *Loop) Apply(ctx context.Context, it *queue.Item) (*FeedbackEvent, error) {
	if it.Status != queue.StatusResolved {
		return nil, fmt.Errorf("cannot apply feedback for item %s in status %s", it.ID, it.Status)
	}

	evt := &FeedbackEvent{
		ContentRecordID: it.ID,
		GroupID:         it.GroupID,
		UserID:          it.UserID,
		Resolution:      it.Resolution,
		Reviewer:        it.ResolvedBy,
		Analyzers:       contributingAnalyzers(it),
		CreatedAt:       time.Now().UTC(),
	}

	var counter string
	switch it.Resolution {
	case queue.ResolutionConfirmed:
		counter = counterConfirmed
	case queue.ResolutionFalsePositive:
		counter = counterFalsePos
		if delta := it.Decision.ReputationDelta; delta != 0 {
			_, err := l.Reputation.Adjust(ctx, it.GroupID, it.UserID, -delta,
				fmt.Sprintf("false positive revert for record %s", it.ID),
				"feedback-loop")
			if err != nil {
				return nil, fmt.Errorf("reverting reputation for record %s: %w", it.ID, err)
			}
			evt.ReputationDelta = -delta
		}
	default:
		return nil, fmt.Errorf("unexpected resolution %q for item %s", it.Resolution, it.ID)
	}

	for _, name := range evt.Analyzers {
		for _, period := range []string{countstore.PeriodDay, countstore.PeriodTotal} {
			if err := l.Counts.IncrementPeriod(ctx, counter, name, period); err != nil {
				// tally loss degrades reweighting, never blocks the resolution
				l.Logger.Warn("failed to record analyzer tally", "analyzer", name, "counter", counter, "err", err)
			}
		}
	}
	feedbackCount.WithLabelValues(string(it.Resolution)).Inc()
	return evt, nil
}
