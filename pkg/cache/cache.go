// Package cache provides the key/value stores backing execution tracking.
package cache

import "context"

// Cache is a string keyed map. Entries may disappear at any time, so callers
// treat a miss as normal.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Put(ctx context.Context, key string, value V) error
	Remove(ctx context.Context, key string) error
	Contains(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}
