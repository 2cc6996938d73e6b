// Package cache defines the port for byte-value caches.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys. Implementations
// may evict at any time; callers must treat misses as normal.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
