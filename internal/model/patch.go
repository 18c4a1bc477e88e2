package model

import "time"

// ItemPatch lists the fields an update may change. Nil fields are left alone.
// ID and CreatedAt are not patchable.
type ItemPatch struct {
	Name     *string    `json:"name,omitempty"`
	Stock    *int       `json:"stock,omitempty"`
	MinStock *int       `json:"minStock,omitempty"`
	Notes    *string    `json:"notes,omitempty"`
	Image    *Image     `json:"image,omitempty"`
	LastUsed *time.Time `json:"lastUsed,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Name == nil && p.Stock == nil && p.MinStock == nil &&
		p.Notes == nil && p.Image == nil && p.LastUsed == nil
}

// Apply merges the patch into item and stamps UpdatedAt.
func (p ItemPatch) Apply(item Item, updatedAt time.Time) Item {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Stock != nil {
		item.Stock = *p.Stock
	}
	if p.MinStock != nil {
		item.MinStock = *p.MinStock
	}
	if p.Notes != nil {
		item.Notes = *p.Notes
	}
	if p.Image != nil {
		item.Image = p.Image.Normalize().Clone()
	}
	if p.LastUsed != nil {
		item.LastUsed = *p.LastUsed
	}
	item.UpdatedAt = updatedAt
	return item
}

// Validate checks the invariants a persisted record must hold after the
// patch is applied.
func (p ItemPatch) Validate() error {
	if p.Name != nil {
		if _, err := ValidateName(*p.Name); err != nil {
			return err
		}
	}
	if p.Stock != nil && *p.Stock < 0 {
		return ErrInvalidQuantity
	}
	if p.MinStock != nil && *p.MinStock < 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
