package model

import (
	"errors"
	"fmt"
)

// Domain errors. Wrap them with fmt.Errorf("%w: ...", ErrXxx) for context and
// match with errors.Is.
var (
	// ErrValidation is the parent of every input error that blocks a save.
	ErrValidation = errors.New("validation failed")

	ErrEmptyName       = fmt.Errorf("%w: name is required", ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be a non-negative whole number", ErrValidation)

	// ErrNegativeStock reports a rejected mutation; the item is unchanged.
	ErrNegativeStock = errors.New("stock cannot go below zero")

	ErrNotFound         = errors.New("item not found")
	ErrMalformedBackup  = errors.New("malformed backup")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error codes carried in HTTP error bodies so a client can rebuild the
// sentinel the server matched.
const (
	CodeEmptyName       = "empty_name"
	CodeInvalidQuantity = "invalid_quantity"
	CodeValidation      = "validation"
	CodeNegativeStock   = "negative_stock"
	CodeNotFound        = "not_found"
	CodeMalformedBackup = "malformed_backup"
	CodeUnavailable     = "unavailable"
)

// ErrorCode returns the code for the most specific sentinel err wraps, or ""
// for errors outside the domain taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyName):
		return CodeEmptyName
	case errors.Is(err, ErrInvalidQuantity):
		return CodeInvalidQuantity
	case errors.Is(err, ErrMalformedBackup):
		return CodeMalformedBackup
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNegativeStock):
		return CodeNegativeStock
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return CodeUnavailable
	}
	return ""
}

// ErrorFromCode is the inverse of ErrorCode. Unknown codes return nil.
func ErrorFromCode(code string) error {
	switch code {
	case CodeEmptyName:
		return ErrEmptyName
	case CodeInvalidQuantity:
		return ErrInvalidQuantity
	case CodeValidation:
		return ErrValidation
	case CodeNegativeStock:
		return ErrNegativeStock
	case CodeNotFound:
		return ErrNotFound
	case CodeMalformedBackup:
		return ErrMalformedBackup
	case CodeUnavailable:
		return ErrStoreUnavailable
	}
	return nil
}
