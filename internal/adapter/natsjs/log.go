package natsjs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
)

// Log implements the event log port on a JetStream stream with one
// subject per session. JetStream preserves per-subject publish order,
// which carries the session's gapless sequence.
type Log struct {
	client *Client
}

// NewLog creates a JetStream-backed event log.
func NewLog(client *Client) *Log {
	return &Log{client: client}
}

func sessionSubject(sessionID string) string {
	return "sessions." + sessionID + ".events"
}

// Append publishes ev to the session's subject. The owning orchestrator
// is the only publisher, in sequence order. Expected-sequence headers
// cannot guard this: JetStream compares them against the stream-global
// sequence, which moves with every other session sharing the stream.
// A msg-id keyed on session and seq makes a re-publish of an already
// committed seq a dedupe no-op instead.
func (l *Log) Append(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := sessionSubject(ev.SessionID)
	_, err = l.client.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(fmt.Sprintf("%s/%d", ev.SessionID, ev.Seq)))
	if err != nil {
		return fmt.Errorf("append %s seq %d: %w", ev.SessionID, ev.Seq, err)
	}
	return nil
}

// ReadFrom fetches all committed events for the session and returns the
// suffix starting at from.
func (l *Log) ReadFrom(ctx context.Context, sessionID string, from uint64) ([]event.Event, error) {
	cons, err := l.client.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{sessionSubject(sessionID)},
	})
	if err != nil {
		return nil, fmt.Errorf("ordered consumer: %w", err)
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("consumer info: %w", err)
	}
	pending := info.NumPending
	if pending == 0 {
		return nil, nil
	}

	batch, err := cons.FetchNoWait(int(pending))
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	var out []event.Event
	for msg := range batch.Messages() {
		var ev event.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if ev.Seq >= from {
			out = append(out, ev)
		}
	}
	if err := batch.Error(); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return out, nil
}

// Follow subscribes an ordered consumer to the session's subject from
// the beginning and skips events below the requested offset. JetStream
// redelivers the committed prefix and hands over to live messages with
// no gap, which is exactly the replay-then-tail contract.
func (l *Log) Follow(ctx context.Context, sessionID string, from uint64) (<-chan event.Event, error) {
	cons, err := l.client.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{sessionSubject(sessionID)},
	})
	if err != nil {
		return nil, fmt.Errorf("ordered consumer: %w", err)
	}

	out := make(chan event.Event, 32)
	go func() {
		defer close(out)

		it, err := cons.Messages()
		if err != nil {
			slog.Error("event follow failed", "session_id", sessionID, "error", err)
			return
		}
		defer it.Stop()

		go func() {
			<-ctx.Done()
			it.Stop()
		}()

		for {
			msg, err := it.Next()
			if err != nil {
				return
			}
			var ev event.Event
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				slog.Error("event decode failed", "session_id", sessionID, "error", err)
				return
			}
			if ev.Seq < from {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Kind.Terminal() {
				return
			}
		}
	}()
	return out, nil
}

// Purge discards all events for a session.
func (l *Log) Purge(ctx context.Context, sessionID string) error {
	err := l.client.stream.Purge(ctx, jetstream.WithPurgeSubject(sessionSubject(sessionID)))
	if err != nil {
		return fmt.Errorf("purge %s: %w", sessionID, err)
	}
	return nil
}
