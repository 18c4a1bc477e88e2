// Package mutation holds the stateless transformations applied to a single
// item record. Callers persist the result; nothing here does I/O.
package mutation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

// NewDraft returns a blank item that hasn't been saved yet.
func NewDraft(id string, now time.Time) model.Item {
	now = model.Timestamp(now)
	return model.Item{
		ID:        id,
		Image:     model.NoImage(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyDelta changes stock by delta. A result below zero is rejected with
// model.ErrNegativeStock and the item is returned unchanged.
func ApplyDelta(item model.Item, delta int, now time.Time) (model.Item, error) {
	next := item.Stock + delta
	if next < 0 {
		return item, fmt.Errorf("%w: %d %+d", model.ErrNegativeStock, item.Stock, delta)
	}
	item.Stock = next
	item.LastUsed = model.Timestamp(now)
	return item, nil
}

// ParseQuantity parses user input into a stock value.
func ParseQuantity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", model.ErrInvalidQuantity)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidQuantity, s)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", model.ErrInvalidQuantity, n)
	}
	return n, nil
}

// SetAbsolute sets stock to value.
func SetAbsolute(item model.Item, value int, now time.Time) (model.Item, error) {
	if value < 0 {
		return item, fmt.Errorf("%w: %d", model.ErrInvalidQuantity, value)
	}
	item.Stock = value
	item.LastUsed = model.Timestamp(now)
	return item, nil
}

// Rename sets the item's name. It does not count as use.
func Rename(item model.Item, name string) (model.Item, error) {
	name, err := model.ValidateName(name)
	if err != nil {
		return item, err
	}
	item.Name = name
	return item, nil
}

// Details are the metadata fields edited together in the detail editor.
type Details struct {
	Name     string
	MinStock int
	Notes    string
}

// EditDetails applies a metadata edit. It does not count as use.
func EditDetails(item model.Item, d Details) (model.Item, error) {
	name, err := model.ValidateName(d.Name)
	if err != nil {
		return item, err
	}
	if d.MinStock < 0 {
		return item, fmt.Errorf("%w: minimum stock %d", model.ErrInvalidQuantity, d.MinStock)
	}
	item.Name = name
	item.MinStock = d.MinStock
	item.Notes = strings.TrimSpace(d.Notes)
	return item, nil
}

// Patch returns the patch that turns before into after, limited to the fields
// this package mutates.
func Patch(before, after model.Item) model.ItemPatch {
	var p model.ItemPatch
	if before.Name != after.Name {
		p.Name = model.Ptr(after.Name)
	}
	if before.Stock != after.Stock {
		p.Stock = model.Ptr(after.Stock)
	}
	if before.MinStock != after.MinStock {
		p.MinStock = model.Ptr(after.MinStock)
	}
	if before.Notes != after.Notes {
		p.Notes = model.Ptr(after.Notes)
	}
	if !before.Image.Equal(after.Image) {
		p.Image = model.Ptr(after.Image)
	}
	if !before.LastUsed.Equal(after.LastUsed) {
		p.LastUsed = model.Ptr(after.LastUsed)
	}
	return p
}

// AttachImage replaces the active image. It returns the URL of the owned
// reference that was displaced, which the caller must release.
func AttachImage(item model.Item, img model.Image) (model.Item, string) {
	img = img.Normalize()
	released := item.Image.OwnedURL()
	if released != "" && released == img.OwnedURL() {
		released = ""
	}
	item.Image = img
	return item, released
}

// RemoveImage clears the image and returns the owned URL to release, if any.
func RemoveImage(item model.Item) (model.Item, string) {
	return AttachImage(item, model.NoImage())
}
