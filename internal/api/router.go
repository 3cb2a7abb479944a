package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/weavetex/internal/jobservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// root confines compile targets and served PDFs; empty means unrestricted.
func NewRouter(svc *jobservice.Service, authEnabled bool, token string, sseHandler http.Handler, root string) chi.Router {
	h := NewHandler(svc, root)
	ph := NewPdfHandler(root)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Jobs.
	r.Post("/compile", h.Compile)
	r.Post("/terminate", h.Terminate)
	r.Get("/status", h.Status)

	// Synctex.
	r.Get("/synctex/forward", h.Forward)
	r.Get("/synctex/inverse", h.Inverse)

	// History.
	r.Get("/history", h.History)
	r.Get("/history/search", h.Search)
	r.Get("/history/{id}", h.Job)

	r.Get("/pdf", ph.ServeFile)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
