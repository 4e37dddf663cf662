package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/unitlens/internal/workspace"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *workspace.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Registry.
	r.Get("/units", h.ListUnits)
	r.Post("/convert", h.Convert)

	// Live documents.
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.ListDocuments)
		r.Post("/", h.OpenDocument)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetDocument)
			r.Delete("/", h.CloseDocument)
			r.Post("/insert", h.Insert)
			r.Post("/attributes", h.SetAttribute)
			r.Get("/conversions", h.Conversions)
		})
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
