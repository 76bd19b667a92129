package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore keeps the queue in process memory, for tests and single-node
// deployments. A single mutex serializes all mutations, which is what makes
// Claim exclusive.
type MemStore struct {
	mu    sync.Mutex
	items map[string]*Item
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]*Item)}
}

var _ Store = (*MemStore)(nil)

func copyItem(it *Item) *Item {
	out := *it
	return &out
}

func (s *MemStore) Enqueue(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// re-enqueue of an already-queued record is a no-op
	if _, ok := s.items[item.ID]; ok {
		return nil
	}
	s.items[item.ID] = copyItem(item)
	queueDepthGauge.Inc()
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(it), nil
}

func (s *MemStore) List(ctx context.Context, groupID string, limit int) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, it := range s.items {
		if it.GroupID != groupID {
			continue
		}
		if it.Status != StatusPending && it.Status != StatusClaimed {
			continue
		}
		out = append(out, copyItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return itemBefore(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) Claim(ctx context.Context, id, reviewer string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if it.Status != StatusPending {
		return nil, ErrClaimConflict
	}
	now := time.Now().UTC()
	it.Status = StatusClaimed
	it.ClaimedBy = reviewer
	it.ClaimedAt = &now
	claimCount.WithLabelValues("ok").Inc()
	return copyItem(it), nil
}

func (s *MemStore) Resolve(ctx context.Context, id, reviewer string, res Resolution) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if it.Status != StatusClaimed {
		return nil, ErrNotClaimant
	}
	if it.ClaimedBy != reviewer {
		return nil, ErrNotClaimant
	}
	if res == ResolutionEscalated {
		it.Status = StatusPending
		it.ClaimedBy = ""
		it.ClaimedAt = nil
		return copyItem(it), nil
	}
	now := time.Now().UTC()
	it.Status = StatusResolved
	it.Resolution = res
	it.ResolvedBy = reviewer
	it.ResolvedAt = &now
	queueDepthGauge.Dec()
	resolveCount.WithLabelValues(string(res)).Inc()
	return copyItem(it), nil
}

func (s *MemStore) Expire(ctx context.Context, now time.Time) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*Item
	for _, it := range s.items {
		if it.Status != StatusPending && it.Status != StatusClaimed {
			continue
		}
		if it.ExpiresAt.After(now) {
			continue
		}
		it.Status = StatusExpired
		queueDepthGauge.Dec()
		expireCount.Inc()
		expired = append(expired, copyItem(it))
	}
	return expired, nil
}
