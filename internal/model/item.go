package model

import (
	"strings"
	"time"
)

// Item is a tracked stock unit.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	MinStock  int       `json:"minStock"`
	Notes     string    `json:"notes,omitempty"`
	Image     Image     `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// IsLow reports whether the item has a threshold and its stock has fallen to
// or below it. Empty items are reported by IsOut instead.
func (i Item) IsLow() bool {
	return i.MinStock > 0 && i.Stock > 0 && i.Stock <= i.MinStock
}

// IsOut reports whether the item has no stock left.
func (i Item) IsOut() bool {
	return i.Stock == 0
}

// RecencyTime is the timestamp used for recency ordering: LastUsed, or
// CreatedAt for items that were never used.
func (i Item) RecencyTime() time.Time {
	if !i.LastUsed.IsZero() {
		return i.LastUsed
	}
	return i.CreatedAt
}

// ValidateName checks that a name is non-empty once trimmed and returns the
// trimmed form.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// Timestamp normalizes t to the precision items are stored with.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// CloneItems returns a deep copy of items so callers can't reach into a
// repository's backing storage.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// Clone returns a copy of the item that shares no memory with the original.
func (i Item) Clone() Item {
	i.Image = i.Image.Clone()
	return i
}
