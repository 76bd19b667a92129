// Package cachestore provides a namespaced TTL cache, used by the pipeline
// for the per-group recent-message window and other short-lived lookups.
package cachestore

import (
	"context"
)

type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
