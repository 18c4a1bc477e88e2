// Package view derives the displayed item list from a collection snapshot:
// search, then filter, then sort. Everything here is pure.
package view

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/erazemk/zaloga/internal/model"
)

// Filter selects items by stock level.
type Filter string

// Filters.
const (
	FilterAll  Filter = "all"
	FilterLow  Filter = "low"
	FilterZero Filter = "zero"
)

// Sort orders the result.
type Sort string

// Sort orders. SortDefault means no choice was made: name order, or the
// frozen initial order inside a Session. SortNone keeps collection order.
const (
	SortDefault  Sort = ""
	SortNone     Sort = "none"
	SortName     Sort = "name"
	SortQuantity Sort = "quantity"
	SortRecency  Sort = "recency"
)

// ParseFilter accepts a filter name; "" means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterLow, FilterZero:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown filter %q", model.ErrValidation, s)
}

// ParseSort accepts a sort name; "" means SortDefault.
func ParseSort(s string) (Sort, error) {
	switch o := Sort(strings.ToLower(strings.TrimSpace(s))); o {
	case SortDefault:
		return SortDefault, nil
	case SortNone, SortName, SortQuantity, SortRecency:
		return o, nil
	case "stock":
		return SortQuantity, nil
	case "usage":
		return SortRecency, nil
	}
	return "", fmt.Errorf("%w: unknown sort %q", model.ErrValidation, s)
}

// Query describes one view of the collection. The zero Query shows every
// item in name order.
type Query struct {
	// Search is matched case-insensitively as a substring of the name, and
	// of the notes when SearchNotes is set. Empty matches everything.
	Search      string
	SearchNotes bool
	Filter      Filter
	Sort        Sort
	// Locale drives name collation. The zero Tag collates by root rules.
	Locale language.Tag
}

// Apply returns the items matching q in display order. items is not
// modified.
func Apply(items []model.Item, q Query) []model.Item {
	out := Select(items, q)
	Order(out, q.Sort, q.Locale)
	return out
}

// Select runs the search and filter stages, keeping collection order.
func Select(items []model.Item, q Query) []model.Item {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(q.Search))

	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if needle != "" && !matches(fold, item, needle, q.SearchNotes) {
			continue
		}
		if !Keep(item, q.Filter) {
			continue
		}
		out = append(out, item.Clone())
	}
	return out
}

func matches(fold cases.Caser, item model.Item, needle string, notes bool) bool {
	if strings.Contains(fold.String(item.Name), needle) {
		return true
	}
	return notes && strings.Contains(fold.String(item.Notes), needle)
}

// Keep reports whether item passes filter.
func Keep(item model.Item, filter Filter) bool {
	switch filter {
	case FilterLow:
		return item.IsLow()
	case FilterZero:
		return item.IsOut()
	default:
		return true
	}
}

// Order sorts items in place. Ties are broken by id so equal keys always come
// out the same way.
func Order(items []model.Item, by Sort, locale language.Tag) {
	switch by {
	case SortDefault, SortName:
		c := collate.New(locale, collate.IgnoreCase, collate.Numeric)
		slices.SortStableFunc(items, func(a, b model.Item) int {
			if r := c.CompareString(a.Name, b.Name); r != 0 {
				return r
			}
			return cmp.Compare(a.ID, b.ID)
		})
	case SortQuantity:
		slices.SortStableFunc(items, func(a, b model.Item) int {
			if r := cmp.Compare(b.Stock, a.Stock); r != 0 {
				return r
			}
			return cmp.Compare(a.ID, b.ID)
		})
	case SortRecency:
		slices.SortStableFunc(items, byRecency)
	}
}

func byRecency(a, b model.Item) int {
	if r := b.RecencyTime().Compare(a.RecencyTime()); r != 0 {
		return r
	}
	return cmp.Compare(a.ID, b.ID)
}
