package http

import (
	"context"
	"net/http"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/conversation"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/session"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/tool"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/convstore"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/service"
)

// headerWallet carries the caller's wallet address. Signature
// verification happens upstream; the core treats the address as the
// owner identity.
const headerWallet = "X-Wallet-Address"

// Core is the session manager surface the handlers need.
type Core interface {
	Open(ctx context.Context, req service.OpenRequest) (session.Session, error)
	Attach(ctx context.Context, sessionID string, from uint64) (<-chan event.Event, error)
	Cancel(sessionID string) error
	Session(sessionID string) (session.Session, error)
}

// ToolLister exposes the registry listing for the dashboard.
type ToolLister interface {
	Filter(profile tool.Profile) []tool.Spec
}

// HealthFunc reports component wiring for the /health endpoint.
type HealthFunc func(ctx context.Context) map[string]any

// Handlers carries the dependencies of all HTTP handlers.
type Handlers struct {
	core   Core
	store  convstore.Store
	tools  ToolLister
	health HealthFunc
}

// NewHandlers wires the handler dependencies.
func NewHandlers(core Core, store convstore.Store, tools ToolLister, health HealthFunc) *Handlers {
	return &Handlers{core: core, store: store, tools: tools, health: health}
}

type generateRequest struct {
	ConversationID string `json:"conversation_id"`
	UserMessage    string `json:"user_message"`
	ToolProfile    string `json:"tool_profile,omitempty"`
}

type generateResponse struct {
	SessionID string `json:"session_id"`
}

// Generate handles POST /api/v1/generate: open a session for one user
// message. 202 with the session id, 409 while the conversation already
// has a running session.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[generateRequest](w, r)
	if !ok {
		return
	}

	sess, err := h.core.Open(r.Context(), service.OpenRequest{
		ConversationID: req.ConversationID,
		OwnerID:        walletFrom(r),
		UserMessage:    req.UserMessage,
		ToolProfile:    tool.Profile(req.ToolProfile),
	})
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}

	writeJSON(w, http.StatusAccepted, generateResponse{SessionID: sess.ID})
}

// Cancel handles POST /api/v1/cancel/{session_id}.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Cancel(urlParam(r, "session_id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession handles GET /api/v1/sessions/{session_id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.core.Session(urlParam(r, "session_id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetConversation handles GET /api/v1/conversations/{id}. Private
// conversations are visible to their owner only.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.GetConversation(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if !readable(conv, walletFrom(r)) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListMessages handles GET /api/v1/conversations/{id}/messages.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if !readable(conv, walletFrom(r)) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := h.store.LoadHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type patchConversationRequest struct {
	Visibility string `json:"visibility"`
}

// PatchConversation handles PATCH /api/v1/conversations/{id}: owner-only
// visibility change.
func (h *Handlers) PatchConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[patchConversationRequest](w, r)
	if !ok {
		return
	}

	v := conversation.Visibility(req.Visibility)
	if !conversation.ValidVisibility(v) {
		writeError(w, http.StatusBadRequest, "visibility must be private or public")
		return
	}

	if err := h.store.SetVisibility(r.Context(), urlParam(r, "id"), walletFrom(r), v); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ListTools handles GET /api/v1/tools.
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	specs := h.tools.Filter(tool.ProfileAll)
	out := make([]toolInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, toolInfo{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health(r.Context()))
}

func walletFrom(r *http.Request) string {
	if addr := r.Header.Get(headerWallet); addr != "" {
		return addr
	}
	return "anonymous"
}

func readable(conv conversation.Conversation, wallet string) bool {
	return conv.Visibility == conversation.VisibilityPublic || conv.OwnerID == wallet
}
