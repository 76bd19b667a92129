package reputation

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memEntry struct {
	mu    sync.Mutex
	score Score
}

// In-process store with a lock per (group,user) key. Distinct keys adjust in
// parallel; the same key serializes.
type MemStore struct {
	entries *xsync.MapOf[string, *memEntry]
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		entries: xsync.NewMapOf[string, *memEntry](),
	}
}

func repKey(groupID, userID string) string {
	return groupID + "/" + userID
}

func (s *MemStore) entry(groupID, userID string) *memEntry {
	e, _ := s.entries.LoadOrCompute(repKey(groupID, userID), func() *memEntry {
		return &memEntry{
			score: Score{
				GroupID:   groupID,
				UserID:    userID,
				Score:     DefaultScore,
				Tier:      TierForScore(DefaultScore),
				UpdatedAt: time.Now().UTC(),
			},
		}
	})
	return e
}

func (s *MemStore) Get(ctx context.Context, groupID, userID string) (*Score, error) {
	e := s.entry(groupID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := e.score
	cpy.History = append([]HistoryEntry{}, e.score.History...)
	return &cpy, nil
}

func (s *MemStore) Adjust(ctx context.Context, groupID, userID string, delta int, reason, actor string) (*Score, error) {
	e := s.entry(groupID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	e.score.Score = clampScore(e.score.Score + delta)
	e.score.Tier = TierForScore(e.score.Score)
	e.score.History = append(e.score.History, HistoryEntry{
		Delta:     delta,
		Reason:    reason,
		Actor:     actor,
		Timestamp: now,
	})
	e.score.UpdatedAt = now

	cpy := e.score
	cpy.History = append([]HistoryEntry{}, e.score.History...)
	return &cpy, nil
}
