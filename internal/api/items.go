package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/zaloga/internal/backup"
	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/logger"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/repository"
)

// ItemsHandler serves the items namespace.
type ItemsHandler struct {
	Repo repository.Repository
	// IDs names restored records that carry no id.
	IDs *ident.Generator
}

type incrementRequest struct {
	Delta int       `json:"delta"`
	At    time.Time `json:"at"`
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Repo.GetAll(r.Context())
	if err != nil {
		domainError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var item model.Item
	if err := decodeJSON(w, r, &item); err != nil {
		domainError(w, r, err)
		return
	}

	id, err := h.Repo.Create(r.Context(), item)
	if err != nil {
		domainError(w, r, err)
		return
	}

	created, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		domainError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("item created", "id", id, "name", created.Name)
	jsonResponse(w, http.StatusCreated, created)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.Repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		domainError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PATCH /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch model.ItemPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		domainError(w, r, err)
		return
	}
	if patch.Image != nil {
		img := patch.Image.Normalize()
		patch.Image = &img
	}

	if err := h.Repo.Update(r.Context(), id, patch); err != nil {
		domainError(w, r, err)
		return
	}

	item, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		domainError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Increment handles POST /api/items/{id}/increment. A rejected change
// answers 409 with the unchanged item.
func (h *ItemsHandler) Increment(w http.ResponseWriter, r *http.Request) {
	var req incrementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		domainError(w, r, err)
		return
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}

	item, err := h.Repo.Increment(r.Context(), chi.URLParam(r, "id"), req.Delta, req.At)
	if errors.Is(err, model.ErrNegativeStock) {
		domainErrorWithItem(w, r, err, &item)
		return
	}
	if err != nil {
		domainError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/items/{id}. Unknown ids succeed with
// existed=false.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, existed, err := h.Repo.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		domainError(w, r, err)
		return
	}
	resp := repository.DeleteResponse{Existed: existed}
	if existed {
		resp.Item = &item
	}
	jsonResponse(w, http.StatusOK, resp)
}

// Load handles PUT /api/items?mode=replace|merge. The body is a backup
// document, so anything Deserialize reads is accepted.
func (h *ItemsHandler) Load(w http.ResponseWriter, r *http.Request) {
	mode, err := backup.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		domainError(w, r, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	n, err := backup.Restore(r.Context(), h.Repo, data, mode, h.IDs)
	if err != nil {
		domainError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("items loaded", "count", n, "mode", mode)
	w.WriteHeader(http.StatusNoContent)
}
