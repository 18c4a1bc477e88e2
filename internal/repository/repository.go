// Package repository keeps the item collection and notifies subscribers of
// every change. Local persists to an SQLite document on this device; Remote
// talks to a shared `zaloga serve` instance.
package repository

import (
	"context"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

// Repository is the item collection. All methods are safe for concurrent
// use. Snapshots returned or delivered are copies the caller owns.
type Repository interface {
	// Create stores a new item and returns its id. An empty id is assigned.
	Create(ctx context.Context, item model.Item) (string, error)
	// Update merges patch into the stored item. Returns model.ErrNotFound
	// for unknown ids.
	Update(ctx context.Context, id string, patch model.ItemPatch) error
	// Increment changes stock by delta atomically and stamps lastUsed with
	// at. A result below zero is rejected with model.ErrNegativeStock and the
	// current, unchanged item is returned alongside the error.
	Increment(ctx context.Context, id string, delta int, at time.Time) (model.Item, error)
	// Delete removes an item and returns the removed record. Deleting an
	// unknown id reports existed=false and no error.
	Delete(ctx context.Context, id string) (item model.Item, existed bool, err error)
	// Get returns one item or model.ErrNotFound.
	Get(ctx context.Context, id string) (model.Item, error)
	// GetAll returns every item in collection order.
	GetAll(ctx context.Context) ([]model.Item, error)
	// Load writes items in bulk. With replace set the collection becomes
	// exactly items; otherwise items overwrite same-id records and the rest
	// are kept.
	Load(ctx context.Context, items []model.Item, replace bool) error
	// Subscribe registers fn for full snapshots: one on registration and one
	// after every successful mutation, in mutation order.
	Subscribe(fn func([]model.Item)) (unsubscribe func())
	// Close releases resources. Later calls fail with
	// model.ErrStoreUnavailable.
	Close() error
}

type deviceKey struct{}

// WithDevice attributes writes made with ctx to deviceID. Backends that track
// authorship record it in Item.UpdatedBy.
func WithDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceKey{}, deviceID)
}

// DeviceFromContext returns the device set by WithDevice, or "".
func DeviceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}

// subscribers is the registration list shared by both backends.
type subscribers struct {
	next int
	fns  map[int]func([]model.Item)
}

func (s *subscribers) add(fn func([]model.Item)) int {
	if s.fns == nil {
		s.fns = make(map[int]func([]model.Item))
	}
	s.next++
	s.fns[s.next] = fn
	return s.next
}

func (s *subscribers) remove(id int) {
	delete(s.fns, id)
}

// list returns the callbacks in registration order.
func (s *subscribers) list() []func([]model.Item) {
	out := make([]func([]model.Item), 0, len(s.fns))
	for id := 1; id <= s.next; id++ {
		if fn, ok := s.fns[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// prepareNew validates a record for creation and stamps its timestamps.
func prepareNew(item model.Item, newID func() string, now time.Time) (model.Item, error) {
	name, err := model.ValidateName(item.Name)
	if err != nil {
		return item, err
	}
	if item.Stock < 0 || item.MinStock < 0 {
		return item, model.ErrInvalidQuantity
	}
	item = item.Clone()
	item.Name = name
	item.Image = item.Image.Normalize()
	if item.ID == "" {
		item.ID = newID()
	}
	now = model.Timestamp(now)
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	} else {
		item.CreatedAt = model.Timestamp(item.CreatedAt)
	}
	if !item.LastUsed.IsZero() {
		item.LastUsed = model.Timestamp(item.LastUsed)
	}
	item.UpdatedAt = now
	return item, nil
}
