package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", h.Generate)
		r.Get("/stream/{session_id}", h.Stream)
		r.Post("/cancel/{session_id}", h.Cancel)
		r.Get("/sessions/{session_id}", h.GetSession)

		r.Get("/conversations/{id}", h.GetConversation)
		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.Patch("/conversations/{id}", h.PatchConversation)

		r.Get("/tools", h.ListTools)
	})
}
