// Package backup reads and writes portable JSON copies of the collection.
//
// The writer emits a pretty-printed array of items. The reader is lenient:
// it takes an array or an object keyed by id, timestamps as RFC 3339 or epoch
// milliseconds, and the imageData / autoImageUrl fields of older backups.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/erazemk/zaloga/internal/ident"
	"github.com/erazemk/zaloga/internal/imaging"
	"github.com/erazemk/zaloga/internal/model"
)

// Mode selects how Restore combines a backup with the current collection.
type Mode string

// Restore modes.
const (
	// ModeReplace makes the collection exactly the backup.
	ModeReplace Mode = "replace"
	// ModeMerge overwrites items present in the backup and keeps the rest.
	ModeMerge Mode = "merge"
)

// ParseMode accepts a mode name; "" means ModeReplace.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeReplace, nil
	case ModeReplace, ModeMerge:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown restore mode %q", model.ErrValidation, s)
}

// Loader is the part of a repository Restore needs.
type Loader interface {
	Load(ctx context.Context, items []model.Item, replace bool) error
}

// Serialize renders items as an indented JSON array.
func Serialize(items []model.Item) ([]byte, error) {
	if items == nil {
		items = []model.Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding backup: %w", err)
	}
	return append(data, '\n'), nil
}

// Deserialize parses a backup document. Anything that isn't an array of item
// objects or an object of item objects fails with model.ErrMalformedBackup.
// Records without an id take one from ids; a nil ids uses a fresh generator.
func Deserialize(data []byte, ids *ident.Generator) ([]model.Item, error) {
	if ids == nil {
		ids = ident.New()
	}
	return deserialize(data, time.Now(), ids.NewID)
}

func deserialize(data []byte, now time.Time, newID func() string) ([]model.Item, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", model.ErrMalformedBackup)
	}

	type keyed struct {
		key    string
		record record
	}
	var records []keyed

	switch trimmed[0] {
	case '[':
		var arr []record
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrMalformedBackup, err)
		}
		for _, r := range arr {
			records = append(records, keyed{record: r})
		}
	case '{':
		var byID map[string]record
		if err := json.Unmarshal(trimmed, &byID); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrMalformedBackup, err)
		}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		keys, err := objectKeys(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrMalformedBackup, err)
		}
		for _, k := range keys {
			records = append(records, keyed{key: k, record: byID[k]})
		}
	default:
		return nil, fmt.Errorf("%w: expected an array or an object", model.ErrMalformedBackup)
	}

	now = model.Timestamp(now)
	items := make([]model.Item, 0, len(records))
	seen := make(map[string]int, len(records))
	for _, kr := range records {
		item, err := kr.record.item(now)
		if err != nil {
			return nil, err
		}
		if item.ID == "" {
			item.ID = kr.key
		}
		if item.ID == "" {
			item.ID = newID()
		}
		// Later duplicates win, as they would in a keyed document.
		if i, ok := seen[item.ID]; ok {
			items[i] = item
			continue
		}
		seen[item.ID] = len(items)
		items = append(items, item)
	}
	return items, nil
}

// Restore parses data and loads it into repo. A malformed document fails
// before repo is touched.
func Restore(ctx context.Context, repo Loader, data []byte, mode Mode, ids *ident.Generator) (int, error) {
	if mode == "" {
		mode = ModeReplace
	}
	if mode != ModeReplace && mode != ModeMerge {
		return 0, fmt.Errorf("%w: unknown restore mode %q", model.ErrValidation, mode)
	}
	items, err := Deserialize(data, ids)
	if err != nil {
		return 0, err
	}
	if err := repo.Load(ctx, items, mode == ModeReplace); err != nil {
		return 0, fmt.Errorf("loading backup: %w", err)
	}
	return len(items), nil
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(dec *json.Decoder) ([]string, error) {
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// record is one item as it may appear in any backup we can read.
type record struct {
	ID        flexString   `json:"id"`
	Name      flexString   `json:"name"`
	Stock     flexNumber   `json:"stock"`
	MinStock  flexNumber   `json:"minStock"`
	Notes     flexString   `json:"notes"`
	Image     *model.Image `json:"image"`
	CreatedAt flexTime     `json:"createdAt"`
	LastUsed  flexTime     `json:"lastUsed"`
	UpdatedAt flexTime     `json:"updatedAt"`
	UpdatedBy flexString   `json:"updatedBy"`

	// Written by the browser version.
	ImageData    flexString `json:"imageData"`
	AutoImageURL flexString `json:"autoImageUrl"`
}

func (r record) item(now time.Time) (model.Item, error) {
	item := model.Item{
		ID:        strings.TrimSpace(string(r.ID)),
		Name:      string(r.Name),
		Stock:     r.Stock.clamped(),
		MinStock:  r.MinStock.clamped(),
		Notes:     string(r.Notes),
		CreatedAt: time.Time(r.CreatedAt),
		LastUsed:  time.Time(r.LastUsed),
		UpdatedAt: time.Time(r.UpdatedAt),
		UpdatedBy: string(r.UpdatedBy),
		Image:     model.NoImage(),
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	switch {
	case r.Image != nil:
		item.Image = r.Image.Normalize()
	case r.ImageData != "":
		data, mime, err := imaging.ParseDataURL(string(r.ImageData))
		if err != nil {
			return item, fmt.Errorf("%w: item %q: %w", model.ErrMalformedBackup, item.Name, err)
		}
		item.Image = model.InlineImage(data, mime)
	case r.AutoImageURL != "":
		item.Image = model.ExternalImage(string(r.AutoImageURL), false)
	}
	return item, nil
}

// flexString accepts a string or null.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = flexString(v)
	return nil
}

// flexNumber accepts a number, a numeric string or null. Whole numbers are
// kept exactly; fractions are truncated.
type flexNumber int64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "null" || s == "" {
		*n = 0
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*n = flexNumber(v)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return fmt.Errorf("invalid number %s", b)
	}
	switch {
	case v >= math.MaxInt64:
		*n = math.MaxInt64
	case v <= math.MinInt64:
		*n = math.MinInt64
	default:
		*n = flexNumber(math.Trunc(v))
	}
	return nil
}

// clamped raises negatives to zero.
func (n flexNumber) clamped() int {
	if n < 0 {
		return 0
	}
	return int(n)
}

// flexTime accepts epoch milliseconds, an RFC 3339 string or null. Zero
// milliseconds means unset.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*t = flexTime{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if str == "" {
			*t = flexTime{}
			return nil
		}
		if ms, err := strconv.ParseInt(str, 10, 64); err == nil {
			*t = fromMillis(ms)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", str)
		}
		*t = flexTime(model.Timestamp(parsed))
		return nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	*t = fromMillis(int64(ms))
	return nil
}

func fromMillis(ms int64) flexTime {
	if ms <= 0 {
		return flexTime{}
	}
	return flexTime(time.UnixMilli(ms).UTC())
}
