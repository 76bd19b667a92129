package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-mod/vigil/policy"
)

func testDecision(id string, action policy.Action) *policy.Decision {
	return &policy.Decision{
		ContentRecordID:     id,
		GroupID:             "g1",
		UserID:              "u1",
		Action:              action,
		Reason:              "test",
		AggregateConfidence: 0.9,
		RequiresReview:      true,
		CreatedAt:           time.Now().UTC(),
	}
}

func TestReviewOrdering(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	// enqueue out of order: old delete, newer ban, newest queue
	oldDelete := NewItem(testDecision("m-delete", policy.ActionDelete), time.Hour)
	oldDelete.EnqueuedAt = time.Now().UTC().Add(-3 * time.Minute)
	ban := NewItem(testDecision("m-ban", policy.ActionBan), time.Hour)
	ban.EnqueuedAt = time.Now().UTC().Add(-2 * time.Minute)
	queued := NewItem(testDecision("m-queue", policy.ActionQueue), time.Hour)

	assert.NoError(s.Enqueue(ctx, oldDelete))
	assert.NoError(s.Enqueue(ctx, ban))
	assert.NoError(s.Enqueue(ctx, queued))

	items, err := s.List(ctx, "g1", 0)
	assert.NoError(err)
	if assert.Len(items, 3) {
		assert.Equal("m-ban", items[0].ID)
		assert.Equal("m-delete", items[1].ID)
		assert.Equal("m-queue", items[2].ID)
	}
}

func TestExclusiveClaim(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	assert.NoError(s.Enqueue(ctx, NewItem(testDecision("m1", policy.ActionQueue), time.Hour)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	conflicts := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Claim(ctx, "m1", "reviewer")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if assert.ErrorIs(err, ErrClaimConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(1, winners)
	assert.Equal(9, conflicts)
}

func TestResolveRequiresClaim(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	assert.NoError(s.Enqueue(ctx, NewItem(testDecision("m1", policy.ActionQueue), time.Hour)))

	_, err := s.Resolve(ctx, "m1", "alice", ResolutionConfirmed)
	assert.ErrorIs(err, ErrNotClaimant)

	_, err = s.Claim(ctx, "m1", "alice")
	assert.NoError(err)

	_, err = s.Resolve(ctx, "m1", "bob", ResolutionConfirmed)
	assert.ErrorIs(err, ErrNotClaimant)

	it, err := s.Resolve(ctx, "m1", "alice", ResolutionFalsePositive)
	assert.NoError(err)
	assert.Equal(StatusResolved, it.Status)
	assert.Equal(ResolutionFalsePositive, it.Resolution)
	assert.Equal("alice", it.ResolvedBy)
}

func TestEscalateReturnsToPending(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	assert.NoError(s.Enqueue(ctx, NewItem(testDecision("m1", policy.ActionQueue), time.Hour)))
	_, err := s.Claim(ctx, "m1", "alice")
	assert.NoError(err)

	it, err := s.Resolve(ctx, "m1", "alice", ResolutionEscalated)
	assert.NoError(err)
	assert.Equal(StatusPending, it.Status)
	assert.Empty(it.ClaimedBy)

	// a different reviewer can now claim it
	_, err = s.Claim(ctx, "m1", "bob")
	assert.NoError(err)
}

func TestExpireUnreviewed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	due := NewItem(testDecision("m-due", policy.ActionQueue), -time.Minute)
	fresh := NewItem(testDecision("m-fresh", policy.ActionQueue), time.Hour)
	assert.NoError(s.Enqueue(ctx, due))
	assert.NoError(s.Enqueue(ctx, fresh))

	expired, err := s.Expire(ctx, time.Now().UTC())
	assert.NoError(err)
	if assert.Len(expired, 1) {
		assert.Equal("m-due", expired[0].ID)
		assert.Equal(StatusExpired, expired[0].Status)
	}

	// expired items can no longer be claimed
	_, err = s.Claim(ctx, "m-due", "alice")
	assert.ErrorIs(err, ErrClaimConflict)

	items, err := s.List(ctx, "g1", 0)
	assert.NoError(err)
	assert.Len(items, 1)
}

func TestEnqueueIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	it := NewItem(testDecision("m1", policy.ActionQueue), time.Hour)
	assert.NoError(s.Enqueue(ctx, it))
	assert.NoError(s.Enqueue(ctx, it))

	items, err := s.List(ctx, "g1", 0)
	assert.NoError(err)
	assert.Len(items, 1)
}
