// Package convstore defines the port interface for the external
// conversation store gateway.
package convstore

import (
	"context"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/conversation"
)

// Store is the outbound gateway that owns Conversation and Message
// records. The core only loads history and appends immutable messages.
type Store interface {
	// EnsureConversation creates the conversation if it does not exist.
	// Existing conversations are returned unchanged; the owner is never
	// rewritten.
	EnsureConversation(ctx context.Context, conv conversation.Conversation) (conversation.Conversation, error)

	// GetConversation returns a conversation or domain.ErrNotFound.
	GetConversation(ctx context.Context, id string) (conversation.Conversation, error)

	// SetVisibility updates a conversation's visibility. Only the owner
	// may change it; a mismatched owner yields domain.ErrNotFound.
	SetVisibility(ctx context.Context, id, ownerID string, v conversation.Visibility) error

	// LoadHistory returns all messages of a conversation in persisted order.
	LoadHistory(ctx context.Context, conversationID string) ([]conversation.Message, error)

	// AppendMessage persists an immutable message at the end of the
	// conversation's sequence and returns it with ID and CreatedAt set.
	AppendMessage(ctx context.Context, msg conversation.Message) (conversation.Message, error)
}
