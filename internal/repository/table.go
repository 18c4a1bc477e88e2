package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// Table stores one row per item in the items table. It backs the realtime
// store server: increments are single UPDATE statements, so writers on
// different connections or processes never lose each other's changes.
//
// As with Local, subscribers run synchronously under the write lock.
type Table struct {
	db  *sql.DB
	ids *ident.Generator
	log *slog.Logger
	now func() time.Time

	writeMu sync.Mutex
	closed  atomic.Bool

	subMu sync.Mutex
	subs  subscribers
}

var _ Repository = (*Table)(nil)

// NewTable returns a Table over a migrated database. New item ids come from
// ids; a nil ids gets a generator of its own.
func NewTable(db *sql.DB, ids *ident.Generator, log *slog.Logger) *Table {
	if ids == nil {
		ids = ident.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Table{db: db, ids: ids, log: log, now: time.Now}
}

// Create implements Repository.
func (r *Table) Create(ctx context.Context, item model.Item) (string, error) {
	next, err := prepareNew(item, r.ids.NewID, r.now())
	if err != nil {
		return "", err
	}
	next.UpdatedBy = DeviceFromContext(ctx)

	err = r.write(ctx, func() error {
		_, err := store.CreateItem(ctx, r.db, next)
		return err
	})
	if err != nil {
		return "", err
	}
	return next.ID, nil
}

// Update implements Repository.
func (r *Table) Update(ctx context.Context, id string, patch model.ItemPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	if patch.Name != nil {
		name, _ := model.ValidateName(*patch.Name)
		patch.Name = &name
	}
	return r.write(ctx, func() error {
		_, err := store.UpdateItem(ctx, r.db, id, patch, model.Timestamp(r.now()), DeviceFromContext(ctx))
		return err
	})
}

// Increment implements Repository.
func (r *Table) Increment(ctx context.Context, id string, delta int, at time.Time) (model.Item, error) {
	var result model.Item
	err := r.write(ctx, func() error {
		item, err := store.IncrementItemStock(ctx, r.db, id, delta, model.Timestamp(at), DeviceFromContext(ctx))
		if item != nil {
			result = *item
		}
		return err
	})
	return result, err
}

// Delete implements Repository.
func (r *Table) Delete(ctx context.Context, id string) (model.Item, bool, error) {
	var removed *model.Item
	err := r.write(ctx, func() error {
		var err error
		removed, err = store.DeleteItem(ctx, r.db, id)
		if err == nil && removed == nil {
			return errUnchanged
		}
		return err
	})
	if err != nil || removed == nil {
		return model.Item{}, false, err
	}
	return *removed, true, nil
}

// Get implements Repository.
func (r *Table) Get(ctx context.Context, id string) (model.Item, error) {
	if r.closed.Load() {
		return model.Item{}, errClosed
	}
	item, err := store.GetItem(ctx, r.db, id)
	if err != nil {
		return model.Item{}, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if item == nil {
		return model.Item{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return *item, nil
}

// GetAll implements Repository.
func (r *Table) GetAll(ctx context.Context) ([]model.Item, error) {
	if r.closed.Load() {
		return nil, errClosed
	}
	items, err := store.ListItems(ctx, r.db)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if items == nil {
		items = []model.Item{}
	}
	return items, nil
}

// Load implements Repository.
func (r *Table) Load(ctx context.Context, items []model.Item, replace bool) error {
	return r.write(ctx, func() error {
		return store.LoadItems(ctx, r.db, items, replace)
	})
}

// Subscribe implements Repository.
func (r *Table) Subscribe(fn func([]model.Item)) func() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.subMu.Lock()
	id := r.subs.add(fn)
	r.subMu.Unlock()

	items, err := r.GetAll(context.Background())
	if err != nil {
		r.log.Error("loading snapshot for new subscriber", "error", err)
	} else {
		fn(items)
	}

	return func() {
		r.subMu.Lock()
		r.subs.remove(id)
		r.subMu.Unlock()
	}
}

// Close implements Repository. The database handle belongs to the caller.
func (r *Table) Close() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.closed.Store(true)
	return nil
}

// errUnchanged lets a write report success without notifying subscribers.
var errUnchanged = errors.New("unchanged")

func (r *Table) write(ctx context.Context, fn func() error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.closed.Load() {
		return errClosed
	}

	if err := fn(); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		if model.ErrorCode(err) == "" {
			return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
		}
		return err
	}

	r.subMu.Lock()
	fns := r.subs.list()
	r.subMu.Unlock()
	if len(fns) == 0 {
		return nil
	}

	items, err := store.ListItems(ctx, r.db)
	if err != nil {
		r.log.Error("loading snapshot for subscribers", "error", err)
		return nil
	}
	for _, fn := range fns {
		fn(model.CloneItems(items))
	}
	return nil
}
