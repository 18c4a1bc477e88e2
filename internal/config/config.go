// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Backends.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config holds the application configuration.
type Config struct {
	Backend       string `validate:"oneof=local remote"`
	DBPath        string `validate:"required_if=Backend local"`
	Addr          string `validate:"required"`
	RemoteURL     string `validate:"required_if=Backend remote,omitempty,url"`
	Token         string
	LogLevel      string `validate:"oneof=debug info warn warning error"`
	LogFormat     string `validate:"oneof=text json"`
	LogFile       string
	BlobCacheSize int `validate:"gte=0"`
}

// Load reads configuration from environment variables, falling back to a
// .env file in the working directory and then to defaults.
func Load() (*Config, error) {
	// Load .env file if it exists, but don't fail if it doesn't (could be real env vars)
	_ = godotenv.Load()

	cfg := &Config{
		Backend:   strings.ToLower(getEnv("ZALOGA_BACKEND", BackendLocal)),
		DBPath:    getEnv("ZALOGA_DB", "zaloga.sqlite3"),
		Addr:      getEnv("ZALOGA_ADDR", ":8080"),
		RemoteURL: strings.TrimRight(getEnv("ZALOGA_REMOTE_URL", ""), "/"),
		Token:     getEnv("ZALOGA_TOKEN", ""),
		LogLevel:  strings.ToLower(getEnv("ZALOGA_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("ZALOGA_LOG_FORMAT", "text")),
		LogFile:   getEnv("ZALOGA_LOG_FILE", ""),
	}

	size, err := strconv.Atoi(getEnv("ZALOGA_BLOB_CACHE_SIZE", "128"))
	if err != nil {
		return nil, fmt.Errorf("invalid ZALOGA_BLOB_CACHE_SIZE value: %w", err)
	}
	cfg.BlobCacheSize = size

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q check", envName(e.Field()), e.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// getEnv retrieves an environment variable or returns a default value when
// it is unset or empty.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envName(field string) string {
	switch field {
	case "Backend":
		return "ZALOGA_BACKEND"
	case "DBPath":
		return "ZALOGA_DB"
	case "Addr":
		return "ZALOGA_ADDR"
	case "RemoteURL":
		return "ZALOGA_REMOTE_URL"
	case "LogLevel":
		return "ZALOGA_LOG_LEVEL"
	case "LogFormat":
		return "ZALOGA_LOG_FORMAT"
	case "BlobCacheSize":
		return "ZALOGA_BLOB_CACHE_SIZE"
	default:
		return field
	}
}
