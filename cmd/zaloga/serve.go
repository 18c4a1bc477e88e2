package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/erazemk/zaloga/internal/api"
	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/config"
	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/repository"
	"github.com/erazemk/zaloga/internal/store"
)

func cmdServe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("serve", "serve [flags]", "")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "")
	var resetKey bool
	fs.BoolVar(&resetKey, "reset-key", false, "")
	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: zaloga serve [flags]

Flags:
  -d, -db <path>          SQLite database path (default: zaloga.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
      -reset-key          issue a new pairing key; paired devices stay paired
  -h, -help               show this help and exit
`)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	database, err := openDatabase(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("database ready", "path", cfg.DBPath)

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("loading jwt secret: %w", err)
	}

	if n, err := store.PruneRevocations(ctx, database, time.Now()); err != nil {
		slog.Warn("pruning revocations", "error", err)
	} else if n > 0 {
		slog.Info("pruned expired revocations", "count", n)
	}

	var key string
	if resetKey {
		key, err = auth.ResetPairingKey(ctx, database)
	} else {
		key, err = auth.EnsurePairingKey(ctx, database)
	}
	if err != nil {
		return fmt.Errorf("preparing pairing key: %w", err)
	}
	if key != "" {
		printPairingKey(key)
	}

	ids := ident.New()
	repo := repository.NewTable(database, ids, slog.Default())
	defer repo.Close()
	hub := api.NewHub(repo)

	handler := api.LoggingMiddleware(api.NewRouter(api.RouterConfig{
		DB:            database,
		Repo:          repo,
		Hub:           hub,
		IDs:           ids,
		JWTSecret:     jwtSecret,
		BlobCacheSize: cfg.BlobCacheSize,
	}))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown doesn't track hijacked connections; the hub closes them.
	server.RegisterOnShutdown(hub.Stop)

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}

// printPairingKey prints a freshly issued pairing key to stdout.
func printPairingKey(key string) {
	fmt.Println()
	fmt.Println("Pairing key:")
	fmt.Printf("  %s\n", key)
	fmt.Println()
	fmt.Println("Pair a device with: zaloga pair <server url> <key>")
	fmt.Println("The key is shown only once. Use -reset-key to issue a new one.")
	fmt.Println()
}
