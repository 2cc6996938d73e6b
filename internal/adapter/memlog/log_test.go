package memlog

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
)

func appendN(t *testing.T, l *Log, sessionID string, n int) []event.Event {
	t.Helper()
	var out []event.Event
	for i := range n {
		kind := event.KindTextDelta
		var payload any = event.TextDeltaPayload{Text: "t"}
		if i == n-1 {
			kind = event.KindDone
			payload = event.DonePayload{Reason: event.ReasonComplete}
		}
		ev := event.New(sessionID, uint64(i), kind, payload)
		if err := l.Append(t.Context(), ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestAppendRejectsGapsAndDuplicates(t *testing.T) {
	l := NewLog()
	ev := event.New("s1", 0, event.KindTextDelta, event.TextDeltaPayload{Text: "a"})
	if err := l.Append(t.Context(), ev); err != nil {
		t.Fatal(err)
	}

	dup := event.New("s1", 0, event.KindTextDelta, event.TextDeltaPayload{Text: "b"})
	if err := l.Append(t.Context(), dup); err == nil {
		t.Fatal("expected duplicate sequence to be rejected")
	}
	gap := event.New("s1", 5, event.KindTextDelta, event.TextDeltaPayload{Text: "c"})
	if err := l.Append(t.Context(), gap); err == nil {
		t.Fatal("expected sequence gap to be rejected")
	}
}

func TestReadFromIsDeterministic(t *testing.T) {
	l := NewLog()
	appendN(t, l, "s1", 6)

	first, err := l.ReadFrom(t.Context(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.ReadFrom(t.Context(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("replaying from 0 twice must yield identical sequences")
	}
	for i, ev := range first {
		if ev.Seq != uint64(i) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
}

func TestFollowReplaysThenTails(t *testing.T) {
	l := NewLog()
	ctx := t.Context()

	// Commit a prefix before subscribing.
	for i := range 3 {
		ev := event.New("s1", uint64(i), event.KindTextDelta, event.TextDeltaPayload{Text: "x"})
		if err := l.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	ch, err := l.Follow(ctx, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Append the live tail concurrently.
	go func() {
		ev := event.New("s1", 3, event.KindTextDelta, event.TextDeltaPayload{Text: "y"})
		_ = l.Append(context.Background(), ev)
		done := event.New("s1", 4, event.KindDone, event.DonePayload{Reason: event.ReasonComplete})
		_ = l.Append(context.Background(), done)
	}()

	var got []uint64
	for ev := range ch {
		got = append(got, ev.Seq)
	}
	want := []uint64{0, 1, 2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected seqs %v, got %v", want, got)
	}
}

func TestFollowFromOffsetHasNoDuplicatesOrGaps(t *testing.T) {
	l := NewLog()
	appendN(t, l, "s1", 8)

	ch, err := l.Follow(t.Context(), "s1", 5)
	if err != nil {
		t.Fatal(err)
	}
	var got []uint64
	for ev := range ch {
		got = append(got, ev.Seq)
	}
	if !reflect.DeepEqual(got, []uint64{5, 6, 7}) {
		t.Fatalf("expected 5..7, got %v", got)
	}
}

func TestFollowEquivalentToStayingConnected(t *testing.T) {
	l := NewLog()
	full := appendN(t, l, "s1", 10)

	for k := range len(full) {
		ch, err := l.Follow(t.Context(), "s1", uint64(k))
		if err != nil {
			t.Fatal(err)
		}
		var got []event.Event
		for ev := range ch {
			got = append(got, ev)
		}
		if !reflect.DeepEqual(got, full[k:]) {
			t.Fatalf("offset %d: reconnect sequence diverges from live sequence", k)
		}
	}
}

func TestFollowEndsAfterTerminalEvent(t *testing.T) {
	l := NewLog()
	appendN(t, l, "s1", 2)

	ch, err := l.Follow(t.Context(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	var last event.Event
	for ev := range ch {
		last = ev
	}
	if last.Kind != event.KindDone {
		t.Fatalf("expected done as last event, got %s", last.Kind)
	}
	var payload event.DonePayload
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Reason != event.ReasonComplete {
		t.Fatalf("expected complete reason, got %s", payload.Reason)
	}
}

func TestFollowStopsOnContextCancel(t *testing.T) {
	l := NewLog()
	ctx, cancel := context.WithCancel(t.Context())
	ch, err := l.Follow(ctx, "headless", 0)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not stop on context cancel")
	}
}

func TestPurgeEndsFollowersAndDropsEvents(t *testing.T) {
	l := NewLog()
	ev := event.New("s1", 0, event.KindTextDelta, event.TextDeltaPayload{Text: "x"})
	if err := l.Append(t.Context(), ev); err != nil {
		t.Fatal(err)
	}

	ch, err := l.Follow(t.Context(), "s1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Purge(t.Context(), "s1"); err != nil {
		t.Fatal(err)
	}

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected follower to end after purge")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not end after purge")
	}

	events, err := l.ReadFrom(t.Context(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events after purge, got %d", len(events))
	}
}

func TestLeaseAcquireIsExclusive(t *testing.T) {
	le := NewLease()

	ok, err := le.Acquire(t.Context(), "c1", "s1")
	if err != nil || !ok {
		t.Fatalf("expected first acquire to win, ok=%v err=%v", ok, err)
	}
	ok, err = le.Acquire(t.Context(), "c1", "s2")
	if err != nil || ok {
		t.Fatalf("expected second acquire to lose, ok=%v err=%v", ok, err)
	}

	if err := le.Release(t.Context(), "c1", "s2"); err != nil {
		t.Fatal(err)
	}
	// s2 never held the lease, so c1 is still taken.
	if ok, _ = le.Acquire(t.Context(), "c1", "s3"); ok {
		t.Fatal("release by non-holder must not free the lease")
	}

	if err := le.Release(t.Context(), "c1", "s1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ = le.Acquire(t.Context(), "c1", "s3"); !ok {
		t.Fatal("expected acquire to succeed after holder release")
	}
}
