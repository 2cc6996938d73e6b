package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/conversation"
)

// Store implements convstore.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool as a conversation store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureConversation inserts the conversation if it is new and returns
// the stored row either way. Existing rows keep their owner and
// visibility untouched.
func (s *Store) EnsureConversation(ctx context.Context, conv conversation.Conversation) (conversation.Conversation, error) {
	if conv.Visibility == "" {
		conv.Visibility = conversation.VisibilityPrivate
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, owner_id, title, visibility)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, owner_id, title, visibility, created_at`,
		conv.ID, conv.OwnerID, conv.Title, conv.Visibility)

	var out conversation.Conversation
	if err := row.Scan(&out.ID, &out.OwnerID, &out.Title, &out.Visibility, &out.CreatedAt); err != nil {
		return conversation.Conversation{}, fmt.Errorf("ensure conversation: %w", err)
	}
	return out, nil
}

// GetConversation returns a conversation by id or domain.ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, visibility, created_at
		FROM conversations WHERE id = $1`, id)

	var out conversation.Conversation
	if err := row.Scan(&out.ID, &out.OwnerID, &out.Title, &out.Visibility, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return conversation.Conversation{}, domain.ErrNotFound
		}
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return out, nil
}

// SetVisibility updates a conversation's visibility. The update is
// scoped to the owner; a missing row or a mismatched owner both report
// domain.ErrNotFound so callers cannot probe conversations they do not
// own.
func (s *Store) SetVisibility(ctx context.Context, id, ownerID string, v conversation.Visibility) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET visibility = $1, updated_at = now()
		WHERE id = $2 AND owner_id = $3`, v, id, ownerID)
	if err != nil {
		return fmt.Errorf("set visibility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LoadHistory returns all messages of a conversation in sequence order.
func (s *Store) LoadHistory(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, parts, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var (
			msg   conversation.Message
			parts []byte
			at    time.Time
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &parts, &at); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(parts, &msg.Parts); err != nil {
			return nil, fmt.Errorf("decode parts for message %s: %w", msg.ID, err)
		}
		msg.CreatedAt = at
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// AppendMessage persists msg at the tail of the conversation's sequence.
// The next seq is computed inside the insert so concurrent appends to
// the same conversation retry on the unique constraint instead of
// interleaving.
func (s *Store) AppendMessage(ctx context.Context, msg conversation.Message) (conversation.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("encode parts: %w", err)
	}

	// Unique (conversation_id, seq) makes the COALESCE race safe: the
	// loser of a concurrent append fails the constraint and retries.
	for attempt := 0; ; attempt++ {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO messages (id, conversation_id, seq, role, parts)
			SELECT $1, $2, COALESCE(MAX(seq), -1) + 1, $3, $4
			FROM messages WHERE conversation_id = $2
			RETURNING created_at`, msg.ID, msg.ConversationID, msg.Role, parts)

		if err := row.Scan(&msg.CreatedAt); err != nil {
			if isUniqueViolation(err) && attempt < 3 {
				continue
			}
			return conversation.Message{}, fmt.Errorf("append message: %w", err)
		}
		return msg, nil
	}
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
