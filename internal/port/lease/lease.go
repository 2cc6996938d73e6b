// Package lease defines the port for the atomic per-conversation
// generation lease.
package lease

import "context"

// Store grants exclusive, releasable leases keyed by conversation ID.
// Acquire is a compare-and-set, not a lock held across the generation's
// lifetime: the holder records its session ID and releases when the
// session reaches a terminal state.
type Store interface {
	// Acquire atomically claims key for holder. Returns false when
	// another holder already owns the key.
	Acquire(ctx context.Context, key, holder string) (bool, error)

	// Release frees key if holder still owns it. Releasing a key owned
	// by someone else, or not at all, is a no-op.
	Release(ctx context.Context, key, holder string) error
}
