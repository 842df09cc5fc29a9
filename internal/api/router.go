package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Repositories.
	r.Get("/repositories", h.ListRepositories)
	r.Post("/repositories", h.CreateRepository)

	// Assets.
	r.Put("/repositories/{repository}/assets/*", h.UploadAsset)
	r.Get("/repositories/{repository}/assets/*", h.GetAsset)
	r.Delete("/repositories/{repository}/assets/*", h.DeleteAsset)
	r.Patch("/repositories/{repository}/assets/*", h.PatchAssetAttributes)

	// Change cursor.
	r.Get("/repositories/{repository}/changes", h.Changes)

	// Search.
	r.Get("/search", h.Search)

	// Metadata rebuild.
	r.Post("/repositories/{repository}/rebuild-metadata", h.RebuildMetadata)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
