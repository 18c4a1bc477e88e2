package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/repository"
)

// RouterConfig holds what the API needs to serve requests.
type RouterConfig struct {
	DB            *sql.DB
	Repo          repository.Repository
	Hub           *Hub
	IDs           *ident.Generator
	JWTSecret     string
	BlobCacheSize int
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	authHandler := &AuthHandler{DB: cfg.DB, JWTSecret: cfg.JWTSecret}
	itemsHandler := &ItemsHandler{Repo: cfg.Repo, IDs: cfg.IDs}
	blobsHandler := NewBlobsHandler(cfg.DB, cfg.BlobCacheSize)
	subscribeHandler := &SubscribeHandler{Hub: cfg.Hub}

	// Public.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"revision":    cfg.Hub.Revision(),
			"subscribers": cfg.Hub.ClientCount(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/pair", authHandler.Pair)
	r.Get("/api/blobs/{key}", blobsHandler.Get)

	// Paired devices.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret, cfg.DB))

		r.Post("/api/unpair", authHandler.Unpair)

		r.Get("/api/items", itemsHandler.List)
		r.Post("/api/items", itemsHandler.Create)
		r.Put("/api/items", itemsHandler.Load)
		r.Get("/api/items/{id}", itemsHandler.Get)
		r.Patch("/api/items/{id}", itemsHandler.Update)
		r.Delete("/api/items/{id}", itemsHandler.Delete)
		r.Post("/api/items/{id}/increment", itemsHandler.Increment)

		r.Put("/api/blobs", blobsHandler.Put)
		r.Delete("/api/blobs/{key}", blobsHandler.Delete)

		r.Get("/api/subscribe", subscribeHandler.Subscribe)
	})

	return r
}
