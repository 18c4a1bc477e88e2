package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/mutation"
	"github.com/erazemk/zaloga/internal/store"
)

// Local keeps the collection in memory and writes it through to a single JSON
// document under the "inventory" settings key.
//
// Subscribers are called synchronously from the mutating goroutine while the
// write lock is held, so they must not mutate the repository themselves.
// Reading from inside a callback is fine.
type Local struct {
	db  *sql.DB
	ids *ident.Generator
	log *slog.Logger
	now func() time.Time

	// writeMu serializes mutate, persist and notify.
	writeMu sync.Mutex

	mu     sync.RWMutex
	items  []model.Item
	closed bool

	subMu sync.Mutex
	subs  subscribers
}

var _ Repository = (*Local)(nil)

// OpenLocal loads the collection document from db. A missing or unreadable
// document starts an empty collection and is logged, never fatal. New item
// ids come from ids; a nil ids gets a generator of its own.
func OpenLocal(ctx context.Context, db *sql.DB, ids *ident.Generator, log *slog.Logger) (*Local, error) {
	if ids == nil {
		ids = ident.New()
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Local{db: db, ids: ids, log: log, now: time.Now}

	raw, ok, err := store.GetSetting(ctx, db, store.SettingInventory)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if !ok {
		log.Info("no stored inventory, starting empty")
		return r, nil
	}

	var items []model.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		log.Warn("stored inventory is unreadable, starting empty", "error", err)
		return r, nil
	}
	for i := range items {
		items[i].Image = items[i].Image.Normalize()
	}
	r.items = items
	log.Debug("loaded inventory", "items", len(items))
	return r, nil
}

// Create implements Repository.
func (r *Local) Create(ctx context.Context, item model.Item) (string, error) {
	var id string
	err := r.mutate(ctx, func(items []model.Item) ([]model.Item, error) {
		next, err := prepareNew(item, r.ids.NewID, r.now())
		if err != nil {
			return nil, err
		}
		if indexOf(items, next.ID) >= 0 {
			return nil, fmt.Errorf("%w: id %q already exists", model.ErrValidation, next.ID)
		}
		id = next.ID
		return append(items, next), nil
	})
	return id, err
}

// Update implements Repository.
func (r *Local) Update(ctx context.Context, id string, patch model.ItemPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return r.mutate(ctx, func(items []model.Item) ([]model.Item, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
		}
		if patch.Name != nil {
			name, _ := model.ValidateName(*patch.Name)
			patch.Name = &name
		}
		items[i] = patch.Apply(items[i], model.Timestamp(r.now()))
		return items, nil
	})
}

// Increment implements Repository.
func (r *Local) Increment(ctx context.Context, id string, delta int, at time.Time) (model.Item, error) {
	var result model.Item
	err := r.mutate(ctx, func(items []model.Item) ([]model.Item, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
		}
		next, err := mutation.ApplyDelta(items[i], delta, at)
		if err != nil {
			result = items[i].Clone()
			return nil, err
		}
		next.UpdatedAt = next.LastUsed
		items[i] = next
		result = next.Clone()
		return items, nil
	})
	return result, err
}

// Delete implements Repository.
func (r *Local) Delete(ctx context.Context, id string) (model.Item, bool, error) {
	var (
		removed model.Item
		existed bool
	)
	err := r.mutate(ctx, func(items []model.Item) ([]model.Item, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, nil
		}
		removed, existed = items[i].Clone(), true
		return slices.Delete(items, i, i+1), nil
	})
	return removed, existed, err
}

// Get implements Repository.
func (r *Local) Get(_ context.Context, id string) (model.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return model.Item{}, errClosed
	}
	i := indexOf(r.items, id)
	if i < 0 {
		return model.Item{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return r.items[i].Clone(), nil
}

// GetAll implements Repository.
func (r *Local) GetAll(context.Context) ([]model.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errClosed
	}
	return model.CloneItems(r.items), nil
}

// Load implements Repository.
func (r *Local) Load(ctx context.Context, incoming []model.Item, replace bool) error {
	return r.mutate(ctx, func(items []model.Item) ([]model.Item, error) {
		if replace {
			items = items[:0]
		}
		for _, item := range incoming {
			item = item.Clone()
			item.Image = item.Image.Normalize()
			if i := indexOf(items, item.ID); i >= 0 {
				items[i] = item
			} else {
				items = append(items, item)
			}
		}
		return items, nil
	})
}

// Subscribe implements Repository. fn receives the current snapshot before
// Subscribe returns.
func (r *Local) Subscribe(fn func([]model.Item)) func() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.subMu.Lock()
	id := r.subs.add(fn)
	r.subMu.Unlock()

	r.mu.RLock()
	snapshot := model.CloneItems(r.items)
	r.mu.RUnlock()
	fn(snapshot)

	return func() {
		r.subMu.Lock()
		r.subs.remove(id)
		r.subMu.Unlock()
	}
}

// Close implements Repository. The database handle belongs to the caller.
func (r *Local) Close() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

var errClosed = fmt.Errorf("%w: repository closed", model.ErrStoreUnavailable)

// mutate runs fn on a private copy of the collection. When fn returns a nil
// slice and no error nothing changed; otherwise the result is persisted,
// published and delivered to subscribers before mutate returns.
func (r *Local) mutate(ctx context.Context, fn func([]model.Item) ([]model.Item, error)) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return errClosed
	}
	working := model.CloneItems(r.items)
	r.mu.RUnlock()

	next, err := fn(working)
	if err != nil || next == nil {
		return err
	}

	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}
	if err := store.PutSetting(ctx, r.db, store.SettingInventory, string(doc)); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}

	r.mu.Lock()
	r.items = next
	r.mu.Unlock()

	r.notify(next)
	return nil
}

func (r *Local) notify(items []model.Item) {
	r.subMu.Lock()
	fns := r.subs.list()
	r.subMu.Unlock()
	for _, fn := range fns {
		fn(model.CloneItems(items))
	}
}

func indexOf(items []model.Item, id string) int {
	return slices.IndexFunc(items, func(it model.Item) bool { return it.ID == id })
}
