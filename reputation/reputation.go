// Package reputation owns the per-(group,user) trust score. All mutation goes
// through a store's serialized Adjust path; no other package writes scores.
package reputation

import (
	"context"
	"errors"
	"time"
)

// Score assigned on first sight of a (group,user) pair.
const DefaultScore = 50

const (
	MinScore = 0
	MaxScore = 100
)

var ErrStoreUnavailable = errors.New("reputation store unavailable")

type Tier string

const (
	TierTrusted    Tier = "trusted"
	TierNeutral    Tier = "neutral"
	TierSuspicious Tier = "suspicious"
	TierUntrusted  Tier = "untrusted"
)

// TierForScore derives the tier band from a score. Tier is never stored; it
// is always recomputed from the score so the two cannot drift apart.
func TierForScore(score int) Tier {
	switch {
	case score >= 80:
		return TierTrusted
	case score >= 50:
		return TierNeutral
	case score >= 30:
		return TierSuspicious
	default:
		return TierUntrusted
	}
}

type HistoryEntry struct {
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// A snapshot of one user's trust in one group. History is append-only.
type Score struct {
	GroupID   string         `json:"group_id"`
	UserID    string         `json:"user_id"`
	Score     int            `json:"score"`
	Tier      Tier           `json:"tier"`
	History   []HistoryEntry `json:"history,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is the authoritative reputation source. Get creates a default
// neutral entry on first access. Adjust clamps the resulting score to
// [MinScore,MaxScore], recomputes the tier, and appends a history entry.
//
// Adjustments for the same (group,user) key are mutually exclusive:
// implementations must serialize concurrent Adjust calls per key so deltas
// compose and are never lost. Reads may observe a slightly stale value
// between concurrent writes.
type Store interface {
	Get(ctx context.Context, groupID, userID string) (*Score, error)
	Adjust(ctx context.Context, groupID, userID string, delta int, reason, actor string) (*Score, error)
}

func clampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
