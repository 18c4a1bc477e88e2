package api

import (
	"database/sql"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/erazemk/zaloga/internal/imaging"
	"github.com/erazemk/zaloga/internal/logger"
	"github.com/erazemk/zaloga/internal/store"
)

// blobCacheTTL is how long a served image stays in memory.
const blobCacheTTL = 10 * time.Minute

type cachedBlob struct {
	data []byte
	mime string
}

// BlobsHandler stores item images uploaded by devices.
type BlobsHandler struct {
	DB    *sql.DB
	cache *expirable.LRU[string, cachedBlob]
}

// NewBlobsHandler returns a handler caching up to cacheSize images in
// memory. A cacheSize of 0 disables the cache.
func NewBlobsHandler(db *sql.DB, cacheSize int) *BlobsHandler {
	h := &BlobsHandler{DB: db}
	if cacheSize > 0 {
		h.cache = expirable.NewLRU[string, cachedBlob](cacheSize, nil, blobCacheTTL)
	}
	return h
}

type putBlobResponse struct {
	URL string `json:"url"`
}

// Put handles PUT /api/blobs. The multipart field "image" must already be
// an encoded JPEG or PNG; it is stored as is.
func (h *BlobsHandler) Put(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxInputSize+(1<<20))
	if err := r.ParseMultipartForm(imaging.MaxInputSize); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to read image")
		return
	}

	// Sniff actual MIME type from bytes (not trusting client headers).
	mime := http.DetectContentType(data)
	if mime != "image/jpeg" && mime != "image/png" {
		jsonError(w, http.StatusBadRequest, "image must be JPEG or PNG")
		return
	}

	key := uuid.NewString()
	if err := store.PutBlob(r.Context(), h.DB, key, data, mime); err != nil {
		logger.FromContext(r.Context()).Error("storing blob", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}

	logger.FromContext(r.Context()).Info("blob stored", "key", key, "size", len(data))
	jsonResponse(w, http.StatusCreated, putBlobResponse{URL: blobURL(r, key)})
}

// Get handles GET /api/blobs/{key}. Keys are random, so the URL itself is
// the capability and no token is required.
func (h *BlobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	blob, ok := h.cached(key)
	if !ok {
		data, mime, err := store.GetBlob(r.Context(), h.DB, key)
		if err != nil {
			logger.FromContext(r.Context()).Error("loading blob", "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to get image")
			return
		}
		if data == nil {
			jsonResponse(w, http.StatusNotFound, notFoundBody("no image"))
			return
		}
		blob = cachedBlob{data: data, mime: mime}
		if h.cache != nil {
			h.cache.Add(key, blob)
		}
	}

	w.Header().Set("Content-Type", blob.mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(blob.data)
}

// Delete handles DELETE /api/blobs/{key}. Deleting twice is fine.
func (h *BlobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := store.DeleteBlob(r.Context(), h.DB, key); err != nil {
		logger.FromContext(r.Context()).Error("deleting blob", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete image")
		return
	}
	if h.cache != nil {
		h.cache.Remove(key)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BlobsHandler) cached(key string) (cachedBlob, bool) {
	if h.cache == nil {
		return cachedBlob{}, false
	}
	return h.cache.Get(key)
}

// blobURL builds the absolute URL a device uses to fetch a blob, honouring
// a TLS-terminating proxy.
func blobURL(r *http.Request, key string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/api/blobs/" + key
}
