// Package queue holds decisions awaiting human review. Items are claimed
// exclusively by one reviewer at a time and expire unreviewed after a
// per-group TTL.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/vigil-mod/vigil/policy"
)

var (
	ErrNotFound = errors.New("queue item not found")
	// returned when claiming an item another reviewer already holds
	ErrClaimConflict = errors.New("queue item already claimed")
	// returned when resolving an item the caller has not claimed
	ErrNotClaimant = errors.New("queue item claimed by another reviewer")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusClaimed  Status = "claimed"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

type Resolution string

const (
	// the automated action was correct
	ResolutionConfirmed Resolution = "confirmed"
	// the automated action was wrong; triggers reputation revert
	ResolutionFalsePositive Resolution = "false_positive"
	// reviewer wants a second opinion; item re-enters pending
	ResolutionEscalated Resolution = "escalated"
)

// One queued review item, carrying the full decision context so reviewers
// see the reasoning rather than a bare score.
type Item struct {
	ID       string           `json:"id"`
	GroupID  string           `json:"group_id"`
	UserID   string           `json:"user_id"`
	Decision *policy.Decision `json:"decision"`

	Status     Status     `json:"status"`
	ClaimedBy  string     `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	Resolution Resolution `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// severity-descending, then oldest-first; the review order contract
func itemBefore(a, b *Item) bool {
	sa, sb := a.Decision.Action.Severity(), b.Decision.Action.Severity()
	if sa != sb {
		return sa > sb
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// Store is the review queue backend.
//
// Claim is exclusive: of any set of concurrent Claim calls for the same
// pending item, exactly one succeeds and the rest get ErrClaimConflict.
// Resolve requires the caller to hold the claim. Expire transitions pending
// and claimed items past their deadline to StatusExpired with no side
// effects on reputation.
type Store interface {
	Enqueue(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	// pending and claimed items for a group, in review order
	List(ctx context.Context, groupID string, limit int) ([]*Item, error)
	Claim(ctx context.Context, id, reviewer string) (*Item, error)
	Resolve(ctx context.Context, id, reviewer string, res Resolution) (*Item, error)
	// transition items whose deadline passed; returns the expired items
	Expire(ctx context.Context, now time.Time) ([]*Item, error)
}

// NewItem builds a pending item from a decision.
func NewItem(dec *policy.Decision, ttl time.Duration) *Item {
	now := time.Now().UTC()
	return &Item{
		ID:         dec.ContentRecordID,
		GroupID:    dec.GroupID,
		UserID:     dec.UserID,
		Decision:   dec,
		Status:     StatusPending,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}
