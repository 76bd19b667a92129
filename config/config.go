// Package config loads per-group moderation configuration and serves
// immutable snapshots to the pipeline. A record is always processed under a
// single snapshot; reloads take effect between records, never mid-record.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/vigil-mod/vigil/policy"
	"github.com/vigil-mod/vigil/prefilter"
)

// Duration unmarshals from either a JSON string ("30m") or seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %s", b)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// GroupConfig is one group's complete moderation configuration. Treated as
// immutable once resolved.
type GroupConfig struct {
	GroupID string `json:"group_id,omitempty"`

	Policy    policy.Snapshot         `json:"policy"`
	Prefilter prefilter.GroupPatterns `json:"prefilter,omitempty"`

	// analyzer names disabled for this group
	DisabledAnalyzers []string `json:"disabled_analyzers,omitempty"`

	// review queue TTL; zero means DefaultQueueTTL
	QueueTTL Duration `json:"queue_ttl,omitempty"`
}

const DefaultQueueTTL = 24 * time.Hour

func (g *GroupConfig) QueueTTLOrDefault() time.Duration {
	if g.QueueTTL > 0 {
		return g.QueueTTL.Std()
	}
	return DefaultQueueTTL
}

func (g *GroupConfig) DisabledSet() map[string]bool {
	if len(g.DisabledAnalyzers) == 0 {
		return nil
	}
	out := make(map[string]bool, len(g.DisabledAnalyzers))
	for _, name := range g.DisabledAnalyzers {
		out[name] = true
	}
	return out
}

// File layout of the configuration document.
type File struct {
	// applied to groups with no explicit entry
	Default GroupConfig `json:"default"`
	// per-group overrides, keyed by group ID
	Groups map[string]GroupConfig `json:"groups,omitempty"`
}

// Registry resolves group configs and supports atomic hot reload.
type Registry struct {
	Logger *slog.Logger

	current atomic.Pointer[File]
}

func NewRegistry(logger *slog.Logger, f *File) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{Logger: logger}
	if f == nil {
		f = &File{}
	}
	r.current.Store(f)
	return r
}

// LoadFile parses a configuration document from disk.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &f, nil
}

// NewRegistryFromPath loads path, or starts empty when path is "".
func NewRegistryFromPath(logger *slog.Logger, path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(logger, nil), nil
	}
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(logger, f), nil
}

// Resolve returns the group's config snapshot: the explicit entry if present,
// otherwise the default. The returned pointer is shared and must not be
// mutated.
func (r *Registry) Resolve(groupID string) *GroupConfig {
	f := r.current.Load()
	if gc, ok := f.Groups[groupID]; ok {
		gc.GroupID = groupID
		return &gc
	}
	gc := f.Default
	gc.GroupID = groupID
	return &gc
}

// Swap atomically replaces the whole document. In-flight records keep the
// snapshot they resolved at ingestion.
func (r *Registry) Swap(f *File) {
	r.current.Store(f)
	r.Logger.Info("configuration reloaded", "groups", len(f.Groups))
}

// Reload re-reads path and swaps on success; on failure the previous
// configuration stays live.
func (r *Registry) Reload(path string) error {
	f, err := LoadFile(path)
	if err != nil {
		return err
	}
	r.Swap(f)
	return nil
}
