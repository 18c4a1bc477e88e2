package store

import (
	"context"
	"testing"

	"github.com/erazemk/zaloga/internal/db"
)

func TestGetJWTSecret_GeneratesAndPersists(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	// First call should generate a secret.
	secret1, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if len(secret1) != 64 { // 32 bytes = 64 hex chars
		t.Fatalf("expected 64 hex chars, got %d", len(secret1))
	}

	// Second call should return the same secret.
	secret2, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if secret1 != secret2 {
		t.Fatalf("expected same secret, got %q and %q", secret1, secret2)
	}
}

func TestPutAndGetSetting(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	_, ok, err := GetSetting(ctx, database, SettingInventory)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected unset setting")
	}

	if err := PutSetting(ctx, database, SettingInventory, "[]"); err != nil {
		t.Fatal(err)
	}
	if err := PutSetting(ctx, database, SettingInventory, `[{"id":"a"}]`); err != nil {
		t.Fatal(err)
	}

	value, ok, err := GetSetting(ctx, database, SettingInventory)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || value != `[{"id":"a"}]` {
		t.Errorf("expected latest value, got %q (ok=%v)", value, ok)
	}
}

func TestInitSettingKeepsFirstValue(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	first, err := InitSetting(ctx, database, SettingPairingHash, "one")
	if err != nil {
		t.Fatal(err)
	}
	second, err := InitSetting(ctx, database, SettingPairingHash, "two")
	if err != nil {
		t.Fatal(err)
	}
	if first != "one" || second != "one" {
		t.Errorf("expected first value to stick, got %q then %q", first, second)
	}
}
