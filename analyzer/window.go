package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/vigil-mod/vigil/cachestore"
)

const recentWindowName = "recent-msgs"

// HashOfText returns a fast, compact hash of a string, for near-duplicate
// matching. Current implementation uses murmur3, default seed, hex encoding.
func HashOfText(s string) string {
	val := murmur3.Sum64([]byte(s))
	return fmt.Sprintf("%016x", val)
}

type WindowEntry struct {
	UserID string `json:"user_id"`
	Hash   string `json:"hash"`
	Text   string `json:"text"`
}

// RecentWindow keeps a short rolling window of recent messages per group in
// the cachestore, for repeated-phrase and near-duplicate detection. The
// read-modify-write is racy across workers; the window is advisory and an
// occasionally dropped entry only weakens detection slightly.
type RecentWindow struct {
	Cache cachestore.CacheStore
	// max retained entries per group
	Size int
	// max retained characters of normalized text per entry
	TextLimit int
}

func NewRecentWindow(cache cachestore.CacheStore, size int) *RecentWindow {
	return &RecentWindow{
		Cache:     cache,
		Size:      size,
		TextLimit: 512,
	}
}

func (w *RecentWindow) Entries(ctx context.Context, groupID string) ([]WindowEntry, error) {
	raw, err := w.Cache.Get(ctx, recentWindowName, groupID)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var entries []WindowEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("corrupt recent window for group %s: %w", groupID, err)
	}
	return entries, nil
}

func (w *RecentWindow) Add(ctx context.Context, groupID, userID, normalizedText string) error {
	entries, err := w.Entries(ctx, groupID)
	if err != nil {
		return err
	}
	text := normalizedText
	if len(text) > w.TextLimit {
		text = text[:w.TextLimit]
	}
	entries = append(entries, WindowEntry{
		UserID: userID,
		Hash:   HashOfText(normalizedText),
		Text:   text,
	})
	if len(entries) > w.Size {
		entries = entries[len(entries)-w.Size:]
	}
	out, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return w.Cache.Set(ctx, recentWindowName, groupID, string(out))
}
