// Package session defines the GenerationSession entity owned by the core.
package session

import "time"

// State is the lifecycle state of a generation session.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Session is one bounded run of the model/tool loop for a single user
// turn. At most one session per conversation may be running at a time.
type Session struct {
	ID             string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
}
