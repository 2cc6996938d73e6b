// Package conversation defines the chat thread entities owned by the
// conversation store gateway.
package conversation

import (
	"encoding/json"
	"time"
)

// Visibility controls who can read a conversation.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Conversation represents a chat thread owned by a wallet user.
// The owner is immutable; visibility is mutable by the owner only.
type Conversation struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PartType identifies the kind of a message segment.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// ToolCallPart records a tool invocation requested by the model.
type ToolCallPart struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
}

// ToolResultPart records the outcome of a tool invocation. Exactly one
// of Output and Error is set.
type ToolResultPart struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Part is one typed segment of a message. The Type tag selects which of
// the value fields is populated.
type Part struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCallPart   `json:"tool_call,omitempty"`
	ToolResult *ToolResultPart `json:"tool_result,omitempty"`
}

// TextPart builds a text segment.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// Message is a single immutable message in a conversation. Ordering is
// the persisted sequence order, not wall-clock time.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"created_at"`
}

// Text concatenates all text parts of the message in order.
func (m *Message) Text() string {
	var out string
	for i := range m.Parts {
		if m.Parts[i].Type == PartText {
			out += m.Parts[i].Text
		}
	}
	return out
}

// ValidVisibility reports whether v is a known visibility value.
func ValidVisibility(v Visibility) bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}
