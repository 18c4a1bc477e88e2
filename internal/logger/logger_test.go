package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelRouting(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l, cleanup, err := New(Config{Level: "info", Format: "text"}, &stdout, &stderr)
	require.NoError(t, err)
	defer cleanup()

	l.Debug("hidden")
	l.Info("stock changed", "id", "a")
	l.Warn("image release failed")
	l.Error("store unavailable")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "stock changed")
	assert.Contains(t, stdout.String(), "image release failed")
	assert.NotContains(t, stdout.String(), "store unavailable")
	assert.Contains(t, stderr.String(), "store unavailable")
}

func TestJSONFormat(t *testing.T) {
	var stdout bytes.Buffer
	l, cleanup, err := New(Config{Level: "debug", Format: "json"}, &stdout, &stdout)
	require.NoError(t, err)
	defer cleanup()

	l.With("component", "test").Debug("hello")
	assert.True(t, strings.HasPrefix(stdout.String(), "{"), "expected JSON output, got %q", stdout.String())
	assert.Contains(t, stdout.String(), `"component":"test"`)
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zaloga.log")
	var stdout, stderr bytes.Buffer
	l, cleanup, err := New(Config{Level: "info", Format: "text", File: path}, &stdout, &stderr)
	require.NoError(t, err)

	l.Info("to file")
	l.Error("also to file")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, string(data), "also to file")
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, Config{Level: in}.LogLevel(), in)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	_, ok := RequestIDFromContext(ctx)
	assert.False(t, ok)

	id := GenerateRequestID()
	ctx = WithRequestID(ctx, id)
	got, ok := RequestIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}
