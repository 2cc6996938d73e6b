package natsjs

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Lease implements the generation lease port on a JetStream KV bucket.
// KV Create is an atomic create-if-absent, which gives the
// compare-and-set the session manager needs across nodes.
type Lease struct {
	kv jetstream.KeyValue
}

// NewLease creates or binds the lease bucket.
func NewLease(ctx context.Context, client *Client, bucket string) (*Lease, error) {
	kv, err := client.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("lease bucket %s: %w", bucket, err)
	}
	return &Lease{kv: kv}, nil
}

// Acquire atomically claims key for holder.
func (l *Lease) Acquire(ctx context.Context, key, holder string) (bool, error) {
	_, err := l.kv.Create(ctx, key, []byte(holder))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("lease acquire %s: %w", key, err)
	}
	return true, nil
}

// Release frees key if holder still owns it. The delete is pinned to
// the revision read, so a concurrent new holder is never evicted.
func (l *Lease) Release(ctx context.Context, key, holder string) error {
	entry, err := l.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("lease get %s: %w", key, err)
	}
	if string(entry.Value()) != holder {
		return nil
	}
	if err := l.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision())); err != nil &&
		!errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("lease release %s: %w", key, err)
	}
	return nil
}
