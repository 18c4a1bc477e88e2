package store

import (
	"context"
	"testing"

	"github.com/erazemk/zaloga/internal/db"
)

func TestBlobLifecycle(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if err := PutBlob(ctx, database, "k1", []byte("fake image data"), "image/jpeg"); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	data, mime, err := GetBlob(ctx, database, "k1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(data) != "fake image data" || mime != "image/jpeg" {
		t.Errorf("unexpected blob: %q %q", data, mime)
	}

	if err := DeleteBlob(ctx, database, "k1"); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	data, _, err = GetBlob(ctx, database, "k1")
	if err != nil {
		t.Fatalf("GetBlob after delete: %v", err)
	}
	if data != nil {
		t.Error("expected nil data after delete")
	}

	// Deleting again is fine.
	if err := DeleteBlob(ctx, database, "k1"); err != nil {
		t.Errorf("second DeleteBlob: %v", err)
	}
}
