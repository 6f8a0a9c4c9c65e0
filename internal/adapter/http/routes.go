// Package http wires the chi router, handlers and response helpers.
package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/rewryte/rewryte/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, callbackSecret string) {
	// Result callbacks from the workflow engine (outside any auth, HMAC-verified).
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.CallbackHMAC(callbackSecret)).
			Post("/result", h.HandleResultCallback)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/tasks/{id}/audit", h.TaskAudit)
	})

	r.Get("/health", h.Health)
}
