// Package memlog implements the event log and generation lease ports
// in process memory, for single-node deployments and tests.
package memlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
)

// followBuffer is the channel capacity handed to each follower. Slow
// consumers fall back to reading from the committed buffer, so this
// only smooths bursts.
const followBuffer = 32

// Log is an in-process append-only event log with replay-then-tail
// subscriptions. All events of a session stay buffered until Purge.
type Log struct {
	mu       sync.Mutex
	sessions map[string]*buffer
}

type buffer struct {
	events []event.Event
	wait   chan struct{} // closed and replaced on every append
	purged bool
}

// NewLog creates an empty in-memory event log.
func NewLog() *Log {
	return &Log{sessions: make(map[string]*buffer)}
}

func (l *Log) ensure(sessionID string) *buffer {
	b, ok := l.sessions[sessionID]
	if !ok {
		b = &buffer{wait: make(chan struct{})}
		l.sessions[sessionID] = b
	}
	return b
}

// Append commits ev at exactly ev.Seq. Gaps and duplicates are rejected.
func (l *Log) Append(_ context.Context, ev event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.ensure(ev.SessionID)
	if b.purged {
		return fmt.Errorf("append %s: session purged", ev.SessionID)
	}
	if want := uint64(len(b.events)); ev.Seq != want {
		return fmt.Errorf("append %s: sequence %d, expected %d", ev.SessionID, ev.Seq, want)
	}
	b.events = append(b.events, ev)

	close(b.wait)
	b.wait = make(chan struct{})
	return nil
}

// ReadFrom returns committed events with Seq >= from, in order.
func (l *Log) ReadFrom(_ context.Context, sessionID string, from uint64) ([]event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.sessions[sessionID]
	if !ok || from >= uint64(len(b.events)) {
		return nil, nil
	}
	out := make([]event.Event, len(b.events)-int(from))
	copy(out, b.events[from:])
	return out, nil
}

// Follow delivers every committed event with Seq >= from, then live
// events with no gap and no duplicate. The channel closes after a
// terminal event, on Purge, or when ctx is done.
func (l *Log) Follow(ctx context.Context, sessionID string, from uint64) (<-chan event.Event, error) {
	l.mu.Lock()
	l.ensure(sessionID)
	l.mu.Unlock()

	out := make(chan event.Event, followBuffer)
	go l.follow(ctx, sessionID, from, out)
	return out, nil
}

func (l *Log) follow(ctx context.Context, sessionID string, next uint64, out chan<- event.Event) {
	defer close(out)

	for {
		l.mu.Lock()
		b, ok := l.sessions[sessionID]
		if !ok || b.purged {
			l.mu.Unlock()
			return
		}
		for next >= uint64(len(b.events)) {
			wait := b.wait
			l.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
			l.mu.Lock()
			b, ok = l.sessions[sessionID]
			if !ok || b.purged {
				l.mu.Unlock()
				return
			}
		}
		batch := make([]event.Event, len(b.events)-int(next))
		copy(batch, b.events[next:])
		l.mu.Unlock()

		for _, ev := range batch {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			next++
			if ev.Kind.Terminal() {
				return
			}
		}
	}
}

// Purge discards all events for a session and ends its followers.
func (l *Log) Purge(_ context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.sessions[sessionID]
	if !ok {
		return nil
	}
	b.purged = true
	b.events = nil
	close(b.wait)
	b.wait = make(chan struct{})
	delete(l.sessions, sessionID)
	return nil
}
