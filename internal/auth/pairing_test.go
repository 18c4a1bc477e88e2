package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/erazemk/zaloga/internal/db"
)

func TestGeneratePairingKey(t *testing.T) {
	key, err := GeneratePairingKey()
	if err != nil {
		t.Fatalf("GeneratePairingKey: %v", err)
	}
	if len(key) != 19 || strings.Count(key, "-") != 3 {
		t.Errorf("unexpected key shape %q", key)
	}
	other, _ := GeneratePairingKey()
	if key == other {
		t.Error("expected distinct keys")
	}
}

func TestEnsurePairingKeyOnlyOnce(t *testing.T) {
	ctx := context.Background()
	database := db.NewTestDB(t)

	key, err := EnsurePairingKey(ctx, database)
	if err != nil {
		t.Fatalf("EnsurePairingKey: %v", err)
	}
	if key == "" {
		t.Fatal("expected a key on first call")
	}

	again, err := EnsurePairingKey(ctx, database)
	if err != nil {
		t.Fatalf("EnsurePairingKey again: %v", err)
	}
	if again != "" {
		t.Errorf("second call must not reveal a key, got %q", again)
	}

	if err := CheckPairingKey(ctx, database, key); err != nil {
		t.Errorf("CheckPairingKey with the right key: %v", err)
	}
	if err := CheckPairingKey(ctx, database, strings.ToLower(strings.ReplaceAll(key, "-", " "))); err != nil {
		t.Errorf("CheckPairingKey should ignore case and separators: %v", err)
	}
	if err := CheckPairingKey(ctx, database, "AAAA-AAAA-AAAA-AAAA"); !errors.Is(err, ErrWrongPairingKey) {
		t.Errorf("expected ErrWrongPairingKey, got %v", err)
	}
}

func TestResetPairingKey(t *testing.T) {
	ctx := context.Background()
	database := db.NewTestDB(t)

	old, _ := EnsurePairingKey(ctx, database)
	fresh, err := ResetPairingKey(ctx, database)
	if err != nil {
		t.Fatalf("ResetPairingKey: %v", err)
	}
	if err := CheckPairingKey(ctx, database, old); !errors.Is(err, ErrWrongPairingKey) {
		t.Errorf("old key should stop working, got %v", err)
	}
	if err := CheckPairingKey(ctx, database, fresh); err != nil {
		t.Errorf("new key should work: %v", err)
	}
}

func TestCheckPairingKeyUnset(t *testing.T) {
	err := CheckPairingKey(context.Background(), db.NewTestDB(t), "anything")
	if !errors.Is(err, ErrWrongPairingKey) {
		t.Errorf("expected ErrWrongPairingKey, got %v", err)
	}
}
