package memlog

import (
	"context"
	"sync"
)

// Lease is an in-process compare-and-set lease store.
type Lease struct {
	mu      sync.Mutex
	holders map[string]string
}

// NewLease creates an empty lease store.
func NewLease() *Lease {
	return &Lease{holders: make(map[string]string)}
}

// Acquire atomically claims key for holder.
func (l *Lease) Acquire(_ context.Context, key, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.holders[key]; taken {
		return false, nil
	}
	l.holders[key] = holder
	return true, nil
}

// Release frees key if holder still owns it.
func (l *Lease) Release(_ context.Context, key, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holders[key] == holder {
		delete(l.holders, key)
	}
	return nil
}
