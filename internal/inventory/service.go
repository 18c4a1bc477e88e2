// Package inventory applies user actions to the item repository: it keeps
// mutations on one item in issue order, validates before anything is
// written and releases images an item no longer uses.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/erazemk/zaloga/internal/blob"
	"github.com/erazemk/zaloga/internal/concurrency"
	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/imaging"
	"github.com/erazemk/zaloga/internal/logger"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/mutation"
	"github.com/erazemk/zaloga/internal/repository"
)

// releaseTimeout bounds a best-effort blob delete.
const releaseTimeout = 10 * time.Second

// Service orchestrates item mutations. It is safe for concurrent use.
type Service struct {
	repo  repository.Repository
	blobs blob.Store
	ids   *ident.Generator
	locks *concurrency.LockManager
	now   func() time.Time
}

// NewService returns a Service over repo. With a nil blobs store, attached
// images are embedded in the item record. Drafts take their ids from ids; a
// nil ids gets a generator of its own.
func NewService(repo repository.Repository, blobs blob.Store, ids *ident.Generator) *Service {
	if ids == nil {
		ids = ident.New()
	}
	return &Service{
		repo:  repo,
		blobs: blobs,
		ids:   ids,
		locks: concurrency.NewLockManager(),
		now:   time.Now,
	}
}

// NewDraft returns an unsaved item with a fresh id.
func (s *Service) NewDraft() model.Item {
	return mutation.NewDraft(s.ids.NewID(), s.now())
}

// SaveDraft validates and stores a draft for the first time.
func (s *Service) SaveDraft(ctx context.Context, draft model.Item) (string, error) {
	name, err := model.ValidateName(draft.Name)
	if err != nil {
		return "", s.record(ctx, "create", err)
	}
	if draft.Stock < 0 || draft.MinStock < 0 {
		return "", s.record(ctx, "create", model.ErrInvalidQuantity)
	}
	draft.Name = name

	id, err := s.repo.Create(ctx, draft)
	if err != nil {
		return "", s.record(ctx, "create", fmt.Errorf("saving item: %w", err))
	}
	logger.FromContext(ctx).Info("item created", "id", id, "name", name, "stock", draft.Stock)
	s.record(ctx, "create", nil)
	return id, nil
}

// ApplyDelta changes stock by delta. A result below zero is rejected with
// model.ErrNegativeStock and the unchanged item is returned.
func (s *Service) ApplyDelta(ctx context.Context, id string, delta int) (model.Item, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	item, err := s.repo.Increment(ctx, id, delta, s.now())
	if errors.Is(err, model.ErrNegativeStock) {
		logger.FromContext(ctx).Info("stock change rejected", "id", id, "stock", item.Stock, "delta", delta)
	}
	return item, s.record(ctx, "delta", err)
}

// SetStock parses user input and sets stock to it.
func (s *Service) SetStock(ctx context.Context, id, input string) (model.Item, error) {
	value, err := mutation.ParseQuantity(input)
	if err != nil {
		return model.Item{}, s.record(ctx, "set", err)
	}
	return s.SetAbsolute(ctx, id, value)
}

// SetAbsolute sets stock to value.
func (s *Service) SetAbsolute(ctx context.Context, id string, value int) (model.Item, error) {
	return s.modify(ctx, "set", id, func(item model.Item) (model.Item, error) {
		return mutation.SetAbsolute(item, value, s.now())
	})
}

// Rename changes an item's name.
func (s *Service) Rename(ctx context.Context, id, name string) (model.Item, error) {
	return s.modify(ctx, "rename", id, func(item model.Item) (model.Item, error) {
		return mutation.Rename(item, name)
	})
}

// EditDetails applies a detail-editor save.
func (s *Service) EditDetails(ctx context.Context, id string, d mutation.Details) (model.Item, error) {
	return s.modify(ctx, "edit", id, func(item model.Item) (model.Item, error) {
		return mutation.EditDetails(item, d)
	})
}

// AttachImage encodes the image read from r and makes it the item's image.
// With a blob store the encoded image is uploaded and referenced; otherwise
// it is embedded. A previously owned image is released afterwards.
func (s *Service) AttachImage(ctx context.Context, id string, r io.Reader) (model.Item, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Item{}, s.record(ctx, "image", err)
	}

	encoded, err := imaging.Process(r)
	if err != nil {
		return current, s.record(ctx, "image", fmt.Errorf("%w: %w", model.ErrValidation, err))
	}

	img := model.InlineImage(encoded.Data, encoded.MIME)
	if s.blobs != nil {
		url, err := s.blobs.Put(ctx, encoded.Data, encoded.MIME)
		if err != nil {
			return current, s.record(ctx, "image", fmt.Errorf("uploading image: %w", err))
		}
		img = model.ExternalImage(url, true)
	}

	next, released := mutation.AttachImage(current, img)
	if err := s.repo.Update(ctx, id, mutation.Patch(current, next)); err != nil {
		// The upload is orphaned now.
		s.release(ctx, img.OwnedURL())
		return current, s.record(ctx, "image", fmt.Errorf("saving image: %w", err))
	}
	s.release(ctx, released)
	s.record(ctx, "image", nil)
	return next, nil
}

// LinkImage points the item at an image it doesn't own, such as a catalogue
// URL. Linked images are never released.
func (s *Service) LinkImage(ctx context.Context, id, url string) (model.Item, error) {
	return s.modifyImage(ctx, "image", id, model.ExternalImage(url, false))
}

// RemoveImage clears the item's image and releases it if owned.
func (s *Service) RemoveImage(ctx context.Context, id string) (model.Item, error) {
	return s.modifyImage(ctx, "noimage", id, model.NoImage())
}

// Delete removes an item and releases its owned image. Deleting an unknown
// id is not an error; existed reports whether anything was removed.
func (s *Service) Delete(ctx context.Context, id string) (existed bool, err error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	removed, existed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, s.record(ctx, "delete", err)
	}
	if existed {
		logger.FromContext(ctx).Info("item deleted", "id", id, "name", removed.Name)
		s.release(ctx, removed.Image.OwnedURL())
	}
	s.record(ctx, "delete", nil)
	return existed, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (model.Item, error) {
	return s.repo.Get(ctx, id)
}

// List returns every item in collection order.
func (s *Service) List(ctx context.Context) ([]model.Item, error) {
	return s.repo.GetAll(ctx)
}

// Subscribe registers fn for collection snapshots.
func (s *Service) Subscribe(fn func([]model.Item)) (unsubscribe func()) {
	return s.repo.Subscribe(fn)
}

func (s *Service) modifyImage(ctx context.Context, op, id string, img model.Image) (model.Item, error) {
	var released string
	item, err := s.modify(ctx, op, id, func(item model.Item) (model.Item, error) {
		var next model.Item
		next, released = mutation.AttachImage(item, img)
		return next, nil
	})
	if err == nil {
		s.release(ctx, released)
	}
	return item, err
}

// modify reads the item, applies fn and writes back only the fields fn
// changed. The per-id lock keeps read and write together.
func (s *Service) modify(ctx context.Context, op, id string, fn func(model.Item) (model.Item, error)) (model.Item, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Item{}, s.record(ctx, op, err)
	}
	next, err := fn(current)
	if err != nil {
		return current, s.record(ctx, op, err)
	}

	patch := mutation.Patch(current, next)
	if patch.IsEmpty() {
		s.record(ctx, op, nil)
		return current, nil
	}
	if err := s.repo.Update(ctx, id, patch); err != nil {
		return current, s.record(ctx, op, fmt.Errorf("updating item: %w", err))
	}
	s.record(ctx, op, nil)
	return next, nil
}

// release deletes an owned image best-effort. Failures are logged and
// counted, never returned.
func (s *Service) release(ctx context.Context, url string) {
	if url == "" || s.blobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, url); err != nil {
		metrics.ImageReleaseFailures.Inc()
		logger.FromContext(ctx).Warn("failed to release image", "url", url, "error", err)
	}
}

func (s *Service) record(ctx context.Context, op string, err error) error {
	result := metrics.ResultOK
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNegativeStock):
		result = metrics.ResultRejected
	case errors.Is(err, model.ErrValidation):
		result = metrics.ResultInvalid
	case errors.Is(err, model.ErrNotFound):
		result = metrics.ResultNotFound
	default:
		result = metrics.ResultError
		logger.FromContext(ctx).Error("item mutation failed", "op", op, "error", err)
	}
	metrics.Mutations.WithLabelValues(op, result).Inc()
	return err
}
