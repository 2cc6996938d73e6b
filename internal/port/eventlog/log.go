// Package eventlog defines the port interface for the append-only,
// per-session event log that makes reconnects lossless.
package eventlog

import (
	"context"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
)

// Log is the append-only replay buffer. Append must be called only by
// the orchestrator owning the session, in sequence order; implementations
// reject gaps and duplicates.
type Log interface {
	// Append commits ev at exactly ev.Seq.
	Append(ctx context.Context, ev event.Event) error

	// ReadFrom returns committed events with Seq >= from, in order.
	ReadFrom(ctx context.Context, sessionID string, from uint64) ([]event.Event, error)

	// Follow returns a replay-then-tail subscription starting at from:
	// every committed event with Seq >= from, then live events with no
	// gap and no duplicate. The channel closes after a terminal event
	// has been delivered or when ctx is done.
	Follow(ctx context.Context, sessionID string, from uint64) (<-chan event.Event, error)

	// Purge discards all events for a session. Called by retention once
	// the session is terminal, or when the conversation is deleted.
	Purge(ctx context.Context, sessionID string) error
}
