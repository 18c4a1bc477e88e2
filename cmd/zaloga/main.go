package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/erazemk/zaloga/internal/blob"
	"github.com/erazemk/zaloga/internal/config"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/logger"
	"github.com/erazemk/zaloga/internal/repository"
)

const usage = `Usage: zaloga <command> [flags] [args]

Commands:
  serve                       run the realtime store server
  pair <url> <key>            pair this device with a server
  list                        list items
  add <name>                  add an item
  inc <item> [n]              add n units (default 1)
  dec <item> [n]              remove n units (default 1)
  set <item> <n>              set the stock to n
  edit <item>                 edit name, minimum stock or notes
  rm <item>                   delete an item
  image <item> <file|url>     attach a photo or link an image
  noimage <item>              remove an item's image
  report                      print totals and low or empty items
  backup [-o file]            write a backup document
  restore <file>              load a backup document

<item> is an item id or its exact name.
Run "zaloga <command> -h" for the command's flags.

Configuration is read from the environment or a .env file:
  ZALOGA_BACKEND              local or remote (default: local)
  ZALOGA_DB                   SQLite database path (default: zaloga.sqlite3)
  ZALOGA_ADDR                 serve listen address (default: :8080)
  ZALOGA_REMOTE_URL           server URL for the remote backend
  ZALOGA_TOKEN                device token from "zaloga pair"
  ZALOGA_LOG_LEVEL            debug, info, warn or error
  ZALOGA_LOG_FORMAT           text or json
  ZALOGA_LOG_FILE             log file path
  ZALOGA_BLOB_CACHE_SIZE      images cached in memory by serve
`

type command func(ctx context.Context, cfg *config.Config, args []string) error

var commands = map[string]command{
	"serve":   cmdServe,
	"pair":    cmdPair,
	"list":    cmdList,
	"add":     cmdAdd,
	"inc":     cmdInc,
	"dec":     cmdDec,
	"set":     cmdSet,
	"edit":    cmdEdit,
	"rm":      cmdRemove,
	"image":   cmdImage,
	"noimage": cmdNoImage,
	"report":  cmdReport,
	"backup":  cmdBackup,
	"restore": cmdRestore,
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "-help" || os.Args[1] == "help" {
		fmt.Fprint(os.Stdout, usage)
		os.Exit(0)
	}

	name := os.Args[1]
	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", name, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Only the server talks about routine work unless asked to.
	level := cfg.LogLevel
	if name != "serve" && os.Getenv("ZALOGA_LOG_LEVEL") == "" {
		level = "warn"
	}
	closeLog, err := logger.Setup(logger.Config{Level: level, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		if closeLog != nil {
			closeLog()
		}
		os.Exit(1)
	}
}

// backendFlags registers the flags every inventory command shares. They
// override the environment.
func backendFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "")
	fs.StringVar(&cfg.RemoteURL, "remote", cfg.RemoteURL, "")
	fs.StringVar(&cfg.RemoteURL, "r", cfg.RemoteURL, "")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "")
}

const backendUsage = `  -d, -db <path>          SQLite database for the local backend
  -r, -remote <url>       use the server at url instead
      -token <token>      device token for the server
`

func newFlagSet(name, synopsis, extra string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stdout, "Usage: zaloga %s\n\nFlags:\n%s%s", synopsis, extra, backendUsage)
	}
	return fs
}

// session is an open repository with the service on top of it.
type session struct {
	ids   *ident.Generator
	svc   *inventory.Service
	repo  repository.Repository
	close func()
}

// open picks the backend: the server when a remote URL is configured or
// given, the local database otherwise.
func open(ctx context.Context, cfg *config.Config, remoteSet bool) (*session, error) {
	if remoteSet && cfg.RemoteURL != "" {
		cfg.Backend = config.BackendRemote
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ids := ident.New()

	if cfg.Backend == config.BackendRemote {
		repo, err := repository.DialRemote(repository.RemoteOptions{
			URL:    cfg.RemoteURL,
			Token:  cfg.Token,
			Logger: slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		blobs := blob.NewClient(cfg.RemoteURL, cfg.Token, nil)
		return &session{
			ids:   ids,
			svc:   inventory.NewService(repo, blobs, ids),
			repo:  repo,
			close: func() { repo.Close() },
		}, nil
	}

	database, err := openDatabase(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	repo, err := repository.OpenLocal(ctx, database, ids, slog.Default())
	if err != nil {
		database.Close()
		return nil, err
	}
	return &session{
		ids:  ids,
		svc:  inventory.NewService(repo, nil, ids),
		repo: repo,
		close: func() {
			repo.Close()
			database.Close()
		},
	}, nil
}

func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return database, nil
}

// parse parses args and opens the configured backend.
func parse(ctx context.Context, fs *flag.FlagSet, cfg *config.Config, args []string) (*session, error) {
	backendFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	remoteSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "remote" || f.Name == "r" {
			remoteSet = true
		}
	})
	return open(ctx, cfg, remoteSet)
}
