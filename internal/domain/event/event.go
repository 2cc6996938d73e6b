// Package event defines the immutable, ordered generation events that
// make the stream resumable.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the kind of stream event.
type Kind string

const (
	KindTextDelta      Kind = "text-delta"
	KindToolCallStart  Kind = "tool-call-start"
	KindToolCallResult Kind = "tool-call-result"
	KindToolCallError  Kind = "tool-call-error"
	KindDone           Kind = "done"
	KindStreamError    Kind = "stream-error"
)

// Terminal reports whether k ends a session's event stream. A client
// replaying a finished session always sees one of these last.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindStreamError
}

// Event is a single immutable unit of generation output. Events are
// totally ordered per session by Seq, gapless from 0.
type Event struct {
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// DoneReason explains why a session reached its terminal done event.
type DoneReason string

const (
	// ReasonComplete means the model finished a step with no tool calls.
	ReasonComplete DoneReason = "complete"
	// ReasonTruncated means the step bound or wall-clock budget was hit;
	// the partial result is still committed and persisted.
	ReasonTruncated DoneReason = "truncated"
	// ReasonCancelled means an explicit cancel stopped the loop after
	// the in-flight work settled.
	ReasonCancelled DoneReason = "cancelled"
)

// TextDeltaPayload carries an incremental fragment of assistant text.
type TextDeltaPayload struct {
	Text string `json:"text"`
}

// ToolCallStartPayload announces a validated tool invocation.
type ToolCallStartPayload struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
}

// ToolCallResultPayload carries a successful tool output.
type ToolCallResultPayload struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output"`
}

// ToolCallErrorPayload records a single failed tool call. The session
// continues after this event.
type ToolCallErrorPayload struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// DonePayload is the clean terminal event of a session.
type DonePayload struct {
	Reason    DoneReason `json:"reason"`
	MessageID string     `json:"message_id,omitempty"`
	Steps     int        `json:"steps"`
}

// StreamErrorPayload is the terminal event of a failed session.
// Events committed before it are never retracted.
type StreamErrorPayload struct {
	Error string `json:"error"`
}

// New builds an event with a marshaled payload. It panics only on
// payload types that cannot be marshaled, which are programming errors.
func New(sessionID string, seq uint64, kind Kind, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("event payload marshal: %v", err))
	}
	return Event{
		SessionID: sessionID,
		Seq:       seq,
		Kind:      kind,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
}
