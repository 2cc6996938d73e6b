// Package ws implements the WebSocket transport for session event
// streams. Unlike a broadcast hub, each connection subscribes to exactly
// one session's replay-then-tail sequence.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
)

// Envelope is the JSON frame sent for every event. Payload stays raw so
// clients decode it by kind.
type Envelope struct {
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// Attacher is the session manager surface the handler needs.
type Attacher interface {
	Attach(ctx context.Context, sessionID string, from uint64) (<-chan event.Event, error)
}

// Handler upgrades stream requests and relays one session's events.
type Handler struct {
	core   Attacher
	logger *slog.Logger
}

// NewHandler creates the WebSocket stream handler.
func NewHandler(core Attacher, logger *slog.Logger) *Handler {
	return &Handler{core: core, logger: logger}
}

// Stream handles GET /ws/stream/{session_id}?from=N. The connection is
// closed normally after the terminal event; closing early never cancels
// the generation.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	from := uint64(0)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "from must be a non-negative integer", http.StatusBadRequest)
			return
		}
		from = parsed
	}

	events, err := h.core.Attach(r.Context(), sessionID, from)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	h.logger.Info("websocket stream attached", "session_id", sessionID, "from", from, "remote", r.RemoteAddr)

	// Read loop to detect disconnect and consume control frames.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readDone:
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				// Terminal event delivered; the stream is complete.
				_ = conn.Close(websocket.StatusNormalClosure, "stream complete")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket write failed", "session_id", sessionID, "error", err)
				_ = conn.Close(websocket.StatusAbnormalClosure, "")
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, ev event.Event) error {
	data, err := json.Marshal(Envelope{
		SessionID: ev.SessionID,
		Seq:       ev.Seq,
		Kind:      string(ev.Kind),
		Payload:   ev.Payload,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
