package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the ping and sync endpoints on a chi router. Recover
// sits inside LogRequests so a panic is logged with its 500 status.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware, middleware.RealIP, LogRequests, Recover)

	// Public: clients probe connectivity before authenticating anything.
	r.Get("/ping", h.Ping)

	r.Route("/sync", func(r chi.Router) {
		r.Use(RequireAPIKey(h.apiKey))
		r.Post("/push", h.SyncPush)
		r.Get("/pull", h.SyncPull)
		r.Get("/stats", h.Stats)
		r.Get("/snapshot", h.SnapshotURL)
	})

	return r
}
