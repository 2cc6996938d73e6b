package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/conversation"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/session"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/tool"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/cache"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/convstore"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/eventlog"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/lease"
)

// ToolSource narrows the registry surface the manager needs. Satisfied
// by tools.Registry.
type ToolSource interface {
	Filter(profile tool.Profile) []tool.Spec
}

// OpenRequest carries one user turn into the core.
type OpenRequest struct {
	ConversationID string
	OwnerID        string
	UserMessage    string
	ToolProfile    tool.Profile
}

// sessionEntry is the manager's record of one session.
type sessionEntry struct {
	sess      session.Session
	cancelled *atomic.Bool
	endedAt   time.Time
}

// SessionManager owns session lifecycles: the one-running-session-per-
// conversation lease, the worker pool, attach/cancel, and retention of
// terminal sessions.
type SessionManager struct {
	orch      *Orchestrator
	store     convstore.Store
	log       eventlog.Log
	leases    lease.Store
	tools     ToolSource
	cache     cache.Cache
	logger    *slog.Logger
	metrics   Metrics
	workers   *semaphore.Weighted
	retention time.Duration
	cacheTTL  time.Duration

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewSessionManager builds the manager. cache may be nil to disable
// history caching; metrics may be nil.
func NewSessionManager(orch *Orchestrator, store convstore.Store, log eventlog.Log, leases lease.Store, tools ToolSource, hist cache.Cache, logger *slog.Logger, metrics Metrics, maxConcurrent int64, retention, cacheTTL time.Duration) *SessionManager {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &SessionManager{
		orch:      orch,
		store:     store,
		log:       log,
		leases:    leases,
		tools:     tools,
		cache:     hist,
		logger:    logger,
		metrics:   metrics,
		workers:   semaphore.NewWeighted(maxConcurrent),
		retention: retention,
		cacheTTL:  cacheTTL,
		sessions:  make(map[string]*sessionEntry),
		stopped:   make(chan struct{}),
	}
}

// Open starts a generation session for one user message. It validates
// the request, creates the conversation on first contact, claims the
// per-conversation lease, persists the user message synchronously and
// hands the loop to a worker. Returns domain.ErrConflict while another
// session holds the conversation's lease.
func (m *SessionManager) Open(ctx context.Context, req OpenRequest) (session.Session, error) {
	if err := validateOpen(&req); err != nil {
		return session.Session{}, err
	}

	conv, err := m.store.EnsureConversation(ctx, conversation.Conversation{
		ID:      req.ConversationID,
		OwnerID: req.OwnerID,
		Title:   titleFrom(req.UserMessage),
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("ensure conversation: %w", err)
	}

	sess := session.Session{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		State:          session.StateRunning,
		CreatedAt:      time.Now().UTC(),
	}

	ok, err := m.leases.Acquire(ctx, conv.ID, sess.ID)
	if err != nil {
		return session.Session{}, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return session.Session{}, domain.ErrConflict
	}

	// From here the lease must be released on every failure path.
	userMsg := conversation.Message{
		ConversationID: conv.ID,
		Role:           conversation.RoleUser,
		Parts:          []conversation.Part{conversation.TextPart(req.UserMessage)},
	}
	if _, err := m.store.AppendMessage(ctx, userMsg); err != nil {
		m.releaseLease(conv.ID, sess.ID)
		return session.Session{}, fmt.Errorf("persist user message: %w", err)
	}
	m.invalidateHistory(ctx, conv.ID)

	history, err := m.loadHistory(ctx, conv.ID)
	if err != nil {
		m.releaseLease(conv.ID, sess.ID)
		return session.Session{}, fmt.Errorf("load history: %w", err)
	}

	entry := &sessionEntry{sess: sess, cancelled: &atomic.Bool{}}
	m.mu.Lock()
	m.sessions[sess.ID] = entry
	m.mu.Unlock()

	specs := m.tools.Filter(req.ToolProfile)

	m.wg.Add(1)
	go m.runSession(entry, history, specs)

	return sess, nil
}

// runSession executes one session on the worker pool. It runs headless:
// no client connection is attached to its context.
func (m *SessionManager) runSession(entry *sessionEntry, history []conversation.Message, specs []tool.Spec) {
	defer m.wg.Done()

	ctx := context.Background()
	sess := entry.sess

	if err := m.workers.Acquire(ctx, 1); err != nil {
		m.logger.Error("worker acquire failed", "session_id", sess.ID, "error", err)
		m.endSession(ctx, entry, session.StateFailed, time.Time{})
		return
	}
	defer m.workers.Release(1)

	m.metrics.SessionStarted(ctx)
	started := time.Now()
	m.logger.Info("session started", "session_id", sess.ID, "conversation_id", sess.ConversationID)

	state := m.orch.Run(ctx, sess, history, specs, entry.cancelled)

	m.endSession(ctx, entry, state, started)
}

func (m *SessionManager) endSession(ctx context.Context, entry *sessionEntry, state session.State, started time.Time) {
	sess := entry.sess

	m.mu.Lock()
	entry.sess.State = state
	entry.endedAt = time.Now()
	m.mu.Unlock()

	m.releaseLease(sess.ConversationID, sess.ID)
	m.invalidateHistory(ctx, sess.ConversationID)

	duration := time.Duration(0)
	if !started.IsZero() {
		duration = time.Since(started)
	}
	m.metrics.SessionEnded(ctx, state, duration)
	m.logger.Info("session ended", "session_id", sess.ID, "state", string(state), "duration", duration)
}

// Attach returns the session's replay-then-tail event stream starting at
// from. Works for running sessions (replay plus live tail) and terminal
// ones (pure replay ending after the terminal event).
func (m *SessionManager) Attach(ctx context.Context, sessionID string, from uint64) (<-chan event.Event, error) {
	m.mu.RLock()
	_, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		// The registry is process-local. A durable event log still holds
		// the session's events after a restart; serve those rather than
		// refusing the reconnect.
		events, err := m.log.ReadFrom(ctx, sessionID, 0)
		if err != nil || len(events) == 0 {
			return nil, domain.ErrNotFound
		}
	}
	return m.log.Follow(ctx, sessionID, from)
}

// Session returns the manager's record of a session.
func (m *SessionManager) Session(sessionID string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return session.Session{}, domain.ErrNotFound
	}
	return entry.sess, nil
}

// Cancel flips the session's cooperative cancel flag. The loop observes
// it at its next checkpoint; in-flight tool calls are never killed.
func (m *SessionManager) Cancel(sessionID string) error {
	m.mu.RLock()
	entry, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}
	entry.cancelled.Store(true)
	m.logger.Info("session cancel requested", "session_id", sessionID)
	return nil
}

// StartJanitor runs the retention sweep until ctx is done. Terminal
// sessions older than the retention window are dropped from the registry
// and their events purged.
func (m *SessionManager) StartJanitor(ctx context.Context, interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopped:
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

func (m *SessionManager) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.retention)

	m.mu.Lock()
	var expired []string
	for id, entry := range m.sessions {
		if entry.sess.State.Terminal() && !entry.endedAt.IsZero() && entry.endedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.log.Purge(ctx, id); err != nil {
			m.logger.Warn("event purge failed", "session_id", id, "error", err)
		}
	}
	if len(expired) > 0 {
		m.logger.Info("retention sweep", "purged", len(expired))
	}
}

// Close waits for running sessions and the janitor to finish.
func (m *SessionManager) Close() {
	m.stopOnce.Do(func() { close(m.stopped) })
	m.wg.Wait()
}

// loadHistory reads conversation history through the cache when one is
// configured.
func (m *SessionManager) loadHistory(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	key := historyKey(conversationID)
	if m.cache != nil {
		if data, ok, err := m.cache.Get(ctx, key); err == nil && ok {
			var msgs []conversation.Message
			if err := json.Unmarshal(data, &msgs); err == nil {
				return msgs, nil
			}
		}
	}

	msgs, err := m.store.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if data, err := json.Marshal(msgs); err == nil {
			_ = m.cache.Set(ctx, key, data, m.cacheTTL)
		}
	}
	return msgs, nil
}

func (m *SessionManager) invalidateHistory(ctx context.Context, conversationID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, historyKey(conversationID)); err != nil {
		m.logger.Warn("history cache invalidation failed", "conversation_id", conversationID, "error", err)
	}
}

func (m *SessionManager) releaseLease(conversationID, sessionID string) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.leases.Release(releaseCtx, conversationID, sessionID); err != nil {
		m.logger.Error("lease release failed", "conversation_id", conversationID, "session_id", sessionID, "error", err)
	}
}

func historyKey(conversationID string) string {
	return "history:" + conversationID
}

func validateOpen(req *OpenRequest) error {
	if strings.TrimSpace(req.ConversationID) == "" {
		return fmt.Errorf("%w: conversation_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return fmt.Errorf("%w: owner_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return fmt.Errorf("%w: user_message is required", domain.ErrValidation)
	}
	if req.ToolProfile == "" {
		req.ToolProfile = tool.ProfileAll
	}
	if req.ToolProfile != tool.ProfileAll && req.ToolProfile != tool.ProfileNone {
		return fmt.Errorf("%w: unknown tool_profile %q", domain.ErrValidation, req.ToolProfile)
	}
	return nil
}

// titleFrom derives a conversation title from its first message,
// truncated on a rune boundary so a multi-byte character is never split.
func titleFrom(userMessage string) string {
	title := strings.TrimSpace(userMessage)
	if len(title) <= 80 {
		return title
	}
	cut := 80
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut]
}
