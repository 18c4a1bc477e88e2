package repository

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/model"
)

func TestTableAttributesWrites(t *testing.T) {
	r := NewTable(db.NewTestDB(t), nil, nil)
	ctx := WithDevice(context.Background(), "tablet")

	id, err := r.Create(ctx, model.Item{Name: "Flour", Stock: 4})
	require.NoError(t, err)

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "tablet", got.UpdatedBy)

	phone := WithDevice(context.Background(), "phone")
	got, err = r.Increment(phone, id, -1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
	assert.Equal(t, "phone", got.UpdatedBy)
}

func TestTableIncrementRejection(t *testing.T) {
	r := NewTable(db.NewTestDB(t), nil, nil)
	ctx := context.Background()
	id, err := r.Create(ctx, model.Item{Name: "Soap", Stock: 5, MinStock: 2})
	require.NoError(t, err)

	got, err := r.Increment(ctx, id, -10, time.Now())
	require.ErrorIs(t, err, model.ErrNegativeStock)
	assert.Equal(t, 5, got.Stock)

	_, err = r.Increment(ctx, "missing", 1, time.Now())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTableConcurrentIncrementsLoseNothing(t *testing.T) {
	r := NewTable(db.NewTestDB(t), nil, nil)
	ctx := context.Background()
	id, err := r.Create(ctx, model.Item{Name: "Rice"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Increment(ctx, id, 2, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Stock)
}

func TestTableNotifiesOnlyOnChange(t *testing.T) {
	r := NewTable(db.NewTestDB(t), nil, nil)
	ctx := context.Background()

	var sizes []int
	r.Subscribe(func(items []model.Item) { sizes = append(sizes, len(items)) })

	id, err := r.Create(ctx, model.Item{Name: "Salt"})
	require.NoError(t, err)
	_, existed, err := r.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, existed)
	_, err = r.Increment(ctx, id, -1, time.Now())
	require.ErrorIs(t, err, model.ErrNegativeStock)
	removed, existed, err := r.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "Salt", removed.Name)

	assert.Equal(t, []int{0, 1, 0}, sizes)
}

func TestTableLoadReplace(t *testing.T) {
	r := NewTable(db.NewTestDB(t), nil, nil)
	ctx := context.Background()
	_, err := r.Create(ctx, model.Item{Name: "Old"})
	require.NoError(t, err)

	now := model.Timestamp(time.Now())
	require.NoError(t, r.Load(ctx, []model.Item{{ID: "a", Name: "New", Stock: 2, CreatedAt: now, UpdatedAt: now}}, true))
	items, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
}

func TestTableClosed(t *testing.T) {
	r := NewTable(db.NewTestDB(t), nil, nil)
	ctx := context.Background()
	id, err := r.Create(ctx, model.Item{Name: "Salt"})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Get(ctx, id)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	_, err = r.GetAll(ctx)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	_, err = r.Increment(ctx, id, 1, time.Now())
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestBackendsMintIDsFromGenerator(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seeded := func() *ident.Generator {
		return ident.NewFrom(rand.New(rand.NewSource(42)), func() time.Time { return at })
	}
	want := seeded().NewID()
	ctx := context.Background()

	table := NewTable(db.NewTestDB(t), seeded(), nil)
	id, err := table.Create(ctx, model.Item{Name: "Flour"})
	require.NoError(t, err)
	assert.Equal(t, want, id)

	local, err := OpenLocal(ctx, db.NewTestDB(t), seeded(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	id, err = local.Create(ctx, model.Item{Name: "Flour"})
	require.NoError(t, err)
	assert.Equal(t, want, id)
}
