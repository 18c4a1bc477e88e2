package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/model"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newItem(id, name string, stock int) model.Item {
	return model.Item{
		ID:        id,
		Name:      name,
		Stock:     stock,
		Image:     model.NoImage(),
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

func TestCreateAndGetItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	in := newItem("a", "Milk", 4)
	in.MinStock = 2
	in.Notes = "fridge"
	in.Image = model.InlineImage([]byte{0xff, 0xd8}, "image/jpeg")

	item, err := CreateItem(ctx, database, in)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if item.Name != "Milk" || item.Stock != 4 || item.MinStock != 2 || item.Notes != "fridge" {
		t.Errorf("unexpected item: %+v", item)
	}
	if !item.Image.Equal(in.Image) {
		t.Errorf("image not round-tripped: %+v", item.Image)
	}
	if !item.CreatedAt.Equal(testNow) {
		t.Errorf("expected createdAt %v, got %v", testNow, item.CreatedAt)
	}
	if !item.LastUsed.IsZero() {
		t.Errorf("expected zero lastUsed, got %v", item.LastUsed)
	}

	missing, err := GetItem(ctx, database, "nope")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing item, got %+v", missing)
	}
}

func TestCreateItemDuplicateID(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if _, err := CreateItem(ctx, database, newItem("a", "Milk", 1)); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	_, err := CreateItem(ctx, database, newItem("a", "Bread", 1))
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for duplicate id, got %v", err)
	}
}

func TestUpdateItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateItem(ctx, database, newItem("a", "Milk", 1))

	later := testNow.Add(time.Minute)
	item, err := UpdateItem(ctx, database, "a", model.ItemPatch{
		Name:  model.Ptr("Oat milk"),
		Image: model.Ptr(model.ExternalImage("http://blobs/1", true)),
	}, later, "device-1")
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if item.Name != "Oat milk" || item.Stock != 1 {
		t.Errorf("unexpected item after update: %+v", item)
	}
	if item.UpdatedBy != "device-1" || !item.UpdatedAt.Equal(later) {
		t.Errorf("update not attributed: by=%q at=%v", item.UpdatedBy, item.UpdatedAt)
	}

	stored, _ := GetItem(ctx, database, "a")
	if stored.Image.OwnedURL() != "http://blobs/1" {
		t.Errorf("expected owned external image, got %+v", stored.Image)
	}

	_, err = UpdateItem(ctx, database, "missing", model.ItemPatch{Notes: model.Ptr("x")}, later, "")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementItemStock(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateItem(ctx, database, newItem("a", "Milk", 5))

	item, err := IncrementItemStock(ctx, database, "a", -3, testNow, "")
	if err != nil {
		t.Fatalf("IncrementItemStock: %v", err)
	}
	if item.Stock != 2 {
		t.Errorf("expected stock 2, got %d", item.Stock)
	}
	if !item.LastUsed.Equal(testNow) {
		t.Errorf("expected lastUsed %v, got %v", testNow, item.LastUsed)
	}

	item, err = IncrementItemStock(ctx, database, "a", -10, testNow, "")
	if !errors.Is(err, model.ErrNegativeStock) {
		t.Fatalf("expected ErrNegativeStock, got %v", err)
	}
	if item == nil || item.Stock != 2 {
		t.Errorf("expected unchanged stock 2 after rejection, got %+v", item)
	}

	_, err = IncrementItemStock(ctx, database, "missing", 1, testNow, "")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementItemStockConcurrent(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateItem(ctx, database, newItem("a", "Milk", 0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := IncrementItemStock(ctx, database, "a", 1, testNow, ""); err != nil {
				t.Errorf("IncrementItemStock: %v", err)
			}
		}()
	}
	wg.Wait()

	item, _ := GetItem(ctx, database, "a")
	if item.Stock != 20 {
		t.Errorf("expected stock 20 after concurrent increments, got %d", item.Stock)
	}
}

func TestDeleteItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateItem(ctx, database, newItem("a", "Milk", 1))

	deleted, err := DeleteItem(ctx, database, "a")
	if err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if deleted == nil || deleted.Name != "Milk" {
		t.Errorf("expected deleted row, got %+v", deleted)
	}

	deleted, err = DeleteItem(ctx, database, "a")
	if err != nil {
		t.Fatalf("second DeleteItem: %v", err)
	}
	if deleted != nil {
		t.Errorf("expected nil on second delete, got %+v", deleted)
	}
}

func TestLoadItems(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateItem(ctx, database, newItem("a", "Milk", 1))
	CreateItem(ctx, database, newItem("b", "Bread", 1))

	if err := LoadItems(ctx, database, []model.Item{newItem("b", "Rye bread", 7), newItem("c", "Soap", 3)}, false); err != nil {
		t.Fatalf("LoadItems merge: %v", err)
	}
	items, _ := ListItems(ctx, database)
	if len(items) != 3 {
		t.Fatalf("expected 3 items after merge, got %d", len(items))
	}
	b, _ := GetItem(ctx, database, "b")
	if b.Name != "Rye bread" || b.Stock != 7 {
		t.Errorf("merge did not overwrite b: %+v", b)
	}

	if err := LoadItems(ctx, database, []model.Item{newItem("z", "Salt", 1)}, true); err != nil {
		t.Fatalf("LoadItems replace: %v", err)
	}
	items, _ = ListItems(ctx, database)
	if len(items) != 1 || items[0].ID != "z" {
		t.Errorf("expected only z after replace, got %+v", items)
	}
}
