package natsjs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
)

// testClient connects to NATS or skips the test if NATS_URL is not set.
func testClient(t *testing.T) *Client {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	client, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return client
}

func textEvent(sessionID string, seq uint64) event.Event {
	return event.New(sessionID, seq, event.KindTextDelta, event.TextDeltaPayload{Text: "chunk"})
}

func doneEvent(sessionID string, seq uint64) event.Event {
	return event.New(sessionID, seq, event.KindDone, event.DonePayload{Reason: event.ReasonComplete})
}

func mustAppend(t *testing.T, log *Log, ev event.Event) {
	t.Helper()
	if err := log.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append %s seq %d: %v", ev.SessionID, ev.Seq, err)
	}
}

func recvEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed early")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return event.Event{}
}

func TestSessionSubject(t *testing.T) {
	got := sessionSubject("2f1d7a58-0000-4000-8000-d8f1a7b3c901")
	want := "sessions.2f1d7a58-0000-4000-8000-d8f1a7b3c901.events"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

// Two sessions share the stream. Interleaving their appends must not
// reject either session's sequence: JetStream sequence expectations are
// stream-global, so Append cannot use them as a per-session guard.
func TestLog_InterleavedSessions(t *testing.T) {
	log := NewLog(testClient(t))
	sessA := uuid.NewString()
	sessB := uuid.NewString()

	mustAppend(t, log, textEvent(sessA, 0))
	mustAppend(t, log, textEvent(sessB, 0))
	mustAppend(t, log, textEvent(sessA, 1))
	mustAppend(t, log, textEvent(sessB, 1))
	mustAppend(t, log, doneEvent(sessA, 2))
	mustAppend(t, log, doneEvent(sessB, 2))

	for _, sessionID := range []string{sessA, sessB} {
		events, err := log.ReadFrom(context.Background(), sessionID, 0)
		if err != nil {
			t.Fatalf("ReadFrom %s: %v", sessionID, err)
		}
		if len(events) != 3 {
			t.Fatalf("session %s: expected 3 events, got %d", sessionID, len(events))
		}
		for i, ev := range events {
			if ev.Seq != uint64(i) {
				t.Fatalf("session %s: expected seq %d, got %d", sessionID, i, ev.Seq)
			}
		}
	}
}

func TestLog_RepublishIsDeduped(t *testing.T) {
	log := NewLog(testClient(t))
	sessionID := uuid.NewString()

	ev := textEvent(sessionID, 0)
	mustAppend(t, log, ev)
	// Same session and seq carries the same msg-id; the stream stores it once.
	mustAppend(t, log, ev)

	events, err := log.ReadFrom(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after duplicate publish, got %d", len(events))
	}
}

func TestLog_ReadFromOffset(t *testing.T) {
	log := NewLog(testClient(t))
	sessionID := uuid.NewString()

	for seq := uint64(0); seq < 4; seq++ {
		mustAppend(t, log, textEvent(sessionID, seq))
	}
	mustAppend(t, log, doneEvent(sessionID, 4))

	events, err := log.ReadFrom(context.Background(), sessionID, 3)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected events 3..4, got %d events", len(events))
	}
	if events[0].Seq != 3 || events[1].Seq != 4 {
		t.Fatalf("expected seqs 3,4, got %d,%d", events[0].Seq, events[1].Seq)
	}
}

func TestLog_FollowReplayThenTail(t *testing.T) {
	log := NewLog(testClient(t))
	sessionID := uuid.NewString()

	mustAppend(t, log, textEvent(sessionID, 0))
	mustAppend(t, log, textEvent(sessionID, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := log.Follow(ctx, sessionID, 1)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}

	// Replayed committed suffix first.
	if ev := recvEvent(t, ch); ev.Seq != 1 {
		t.Fatalf("expected replayed seq 1, got %d", ev.Seq)
	}

	// Then the live tail with no gap.
	mustAppend(t, log, textEvent(sessionID, 2))
	mustAppend(t, log, doneEvent(sessionID, 3))

	if ev := recvEvent(t, ch); ev.Seq != 2 {
		t.Fatalf("expected live seq 2, got %d", ev.Seq)
	}
	last := recvEvent(t, ch)
	if last.Seq != 3 || last.Kind != event.KindDone {
		t.Fatalf("expected done at seq 3, got %s at %d", last.Kind, last.Seq)
	}

	// The channel closes after the terminal event.
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after done")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestLog_Purge(t *testing.T) {
	log := NewLog(testClient(t))
	sessionID := uuid.NewString()

	mustAppend(t, log, textEvent(sessionID, 0))
	mustAppend(t, log, doneEvent(sessionID, 1))

	if err := log.Purge(context.Background(), sessionID); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	events, err := log.ReadFrom(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("ReadFrom after purge: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events after purge, got %d", len(events))
	}
}
