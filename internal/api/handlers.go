package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hallvard/depot/internal/apperr"
	"github.com/hallvard/depot/internal/metadata"
	"github.com/hallvard/depot/internal/models"
	"github.com/hallvard/depot/internal/search"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// assetPath extracts the asset path from the URL (everything after the
// assets segment). Supports encoded slashes from generated clients.
func assetPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	return "/" + decoded
}

// ListRepositories handles GET /api/repositories.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.svc.ListRepositories()
	if err != nil {
		slog.Error("list repositories failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repositories": repos})
}

// CreateRepository handles POST /api/repositories.
func (h *Handler) CreateRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Format string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	repo, err := h.svc.CreateRepository(req.Name, req.Format)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, errorBody("repository already exists"))
		} else {
			slog.Error("create repository failed", slog.String("name", req.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

// UploadAsset handles PUT /api/repositories/{repository}/assets/*.
// The request body is the raw asset content.
func (h *Handler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 512<<20)
	repository := chi.URLParam(r, "repository")
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	detail, err := h.svc.UploadAsset(repository, path, content)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("repository not found"))
		} else {
			slog.Error("upload asset failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// GetAsset handles GET /api/repositories/{repository}/assets/*,
// streaming the raw content.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	repository := chi.URLParam(r, "repository")
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	detail, err := h.svc.GetAsset(repository, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get asset failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	if sha1, ok := detail.Checksums["sha1"]; ok {
		w.Header().Set("ETag", `"`+sha1+`"`)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(detail.Content)
}

// DeleteAsset handles DELETE /api/repositories/{repository}/assets/*.
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	repository := chi.URLParam(r, "repository")
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteAsset(repository, path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("delete asset failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PatchAssetAttributes handles PATCH /api/repositories/{repository}/assets/*.
// The body is a list of attribute changes.
func (h *Handler) PatchAssetAttributes(w http.ResponseWriter, r *http.Request) {
	repository := chi.URLParam(r, "repository")
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var changes []models.AttributeChange
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.SetAssetAttributes(repository, path, changes); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("patch attributes failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Changes handles GET /api/repositories/{repository}/changes.
//
// Query parameters: since (RFC 3339 cursor), pattern (repeatable
// wildcard filter), batch (page size hint).
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	repository := chi.URLParam(r, "repository")
	q := r.URL.Query()

	var since *time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid since cursor"))
			return
		}
		since = &t
	}
	batch, _ := strconv.Atoi(q.Get("batch"))

	assets, err := h.svc.Changes(repository, since, q["pattern"], batch)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("repository not found"))
		} else {
			slog.Error("changes failed", slog.String("repository", repository), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	var cursor string
	if len(assets) > 0 {
		cursor = assets[len(assets)-1].LastUpdated.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assets": assets,
		"cursor": cursor,
	})
}

// Search handles GET /api/search. Every query parameter except limit
// and offset becomes one search filter.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	var filters []models.SearchFilter
	for property, values := range q {
		if property == "limit" || property == "offset" {
			continue
		}
		for _, value := range values {
			filters = append(filters, models.SearchFilter{Property: property, Value: value})
		}
	}

	records, err := h.svc.Search(filters, limit, offset)
	if err != nil {
		var filterErr search.FilterError
		if errors.As(err, &filterErr) {
			writeJSON(w, http.StatusBadRequest, errorBody(filterErr.Error()))
			return
		}
		slog.Error("search failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": records})
}

// RebuildMetadata handles POST /api/repositories/{repository}/rebuild-metadata.
func (h *Handler) RebuildMetadata(w http.ResponseWriter, r *http.Request) {
	repository := chi.URLParam(r, "repository")
	var req struct {
		Namespace        string `json:"namespace"`
		Name             string `json:"name"`
		BaseVersion      string `json:"base_version"`
		RebuildChecksums bool   `json:"rebuild_checksums"`
		RefreshOnly      bool   `json:"refresh_only"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}

	rebuilt, err := h.svc.RebuildMetadata(r.Context(), metadata.Request{
		Repository:       repository,
		RebuildChecksums: req.RebuildChecksums,
		Namespace:        req.Namespace,
		Name:             req.Name,
		BaseVersion:      req.BaseVersion,
	}, req.RefreshOnly)
	if err != nil {
		var failures *apperr.Failures
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("repository not found"))
		case errors.As(err, &failures):
			writeJSON(w, http.StatusOK, map[string]any{
				"rebuilt":  rebuilt,
				"failures": failures.Error(),
			})
		default:
			slog.Error("rebuild metadata failed", slog.String("repository", repository), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rebuilt": rebuilt})
}
