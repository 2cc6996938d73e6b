package http

import (
	"fmt"
	"net/http"
	"strconv"
)

// Stream handles GET /api/v1/stream/{session_id}: the SSE transport of
// one session's event sequence. The frame id is the event Seq, the event
// name is the Kind and the data is the payload JSON, so a reconnecting
// EventSource resumes via Last-Event-ID without client code. The stream
// always ends with a done or stream-error frame; client disconnect only
// tears down this subscription, never the generation.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	from, err := streamOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be a non-negative integer")
		return
	}

	events, err := h.core.Attach(r.Context(), urlParam(r, "session_id"), from)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, ev.Payload)
		flusher.Flush()
	}
}

// streamOffset resolves the replay offset: the from query parameter
// wins, then Last-Event-ID plus one, then zero.
func streamOffset(r *http.Request) (uint64, error) {
	if raw := r.URL.Query().Get("from"); raw != "" {
		return strconv.ParseUint(raw, 10, 64)
	}
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		last, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		return last + 1, nil
	}
	return 0, nil
}
