package mutation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/zaloga/internal/model"
)

var now = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func TestApplyDelta(t *testing.T) {
	item := model.Item{ID: "a", Name: "Milk", Stock: 5, MinStock: 2}

	got, err := ApplyDelta(item, 1, now)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Stock)
	assert.True(t, got.LastUsed.Equal(now))

	got, err = ApplyDelta(item, -5, now)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestApplyDeltaRejectsNegative(t *testing.T) {
	item := model.Item{ID: "a", Stock: 5, MinStock: 2}

	got, err := ApplyDelta(item, -10, now)
	require.ErrorIs(t, err, model.ErrNegativeStock)
	assert.Equal(t, 5, got.Stock)
	assert.True(t, got.LastUsed.IsZero(), "rejected delta must not touch lastUsed")
}

func TestStockNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	item := model.Item{ID: "a", Stock: 3}

	for i := 0; i < 5000; i++ {
		var err error
		if rng.Intn(4) == 0 {
			next := item
			next, err = SetAbsolute(item, rng.Intn(20)-5, now)
			if err == nil {
				item = next
			}
		} else {
			item, _ = ApplyDelta(item, rng.Intn(7)-4, now)
		}
		require.GreaterOrEqual(t, item.Stock, 0, "step %d", i)
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{" 12 ", 12, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1.5", 0, true},
		{"-3", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseQuantity(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, model.ErrInvalidQuantity, "input %q", tt.in)
			assert.ErrorIs(t, err, model.ErrValidation, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSetAbsolute(t *testing.T) {
	item := model.Item{ID: "a", Stock: 5}

	got, err := SetAbsolute(item, 12, now)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Stock)
	assert.True(t, got.LastUsed.Equal(now))

	got, err = SetAbsolute(item, -1, now)
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	assert.Equal(t, 5, got.Stock)
}

func TestEditDetailsKeepsLastUsed(t *testing.T) {
	used := now.Add(-time.Hour)
	item := model.Item{ID: "a", Name: "Milk", Stock: 2, LastUsed: used}

	got, err := EditDetails(item, Details{Name: "  Oat milk ", MinStock: 4, Notes: " top shelf "})
	require.NoError(t, err)
	assert.Equal(t, "Oat milk", got.Name)
	assert.Equal(t, 4, got.MinStock)
	assert.Equal(t, "top shelf", got.Notes)
	assert.True(t, got.LastUsed.Equal(used))

	_, err = EditDetails(item, Details{Name: " "})
	assert.ErrorIs(t, err, model.ErrEmptyName)

	_, err = EditDetails(item, Details{Name: "Milk", MinStock: -1})
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)
}

func TestRename(t *testing.T) {
	item := model.Item{ID: "a", Name: "Milk"}

	got, err := Rename(item, "Bread")
	require.NoError(t, err)
	assert.Equal(t, "Bread", got.Name)

	got, err = Rename(item, "")
	assert.ErrorIs(t, err, model.ErrEmptyName)
	assert.Equal(t, "Milk", got.Name)
}

func TestAttachImageReleasesOwnedReference(t *testing.T) {
	item := model.Item{ID: "a", Image: model.ExternalImage("http://blobs/old", true)}

	got, released := AttachImage(item, model.InlineImage([]byte{1, 2}, "image/jpeg"))
	assert.Equal(t, "http://blobs/old", released)
	assert.Equal(t, model.ImageInline, got.Image.Kind)

	got, released = AttachImage(got, model.ExternalImage("http://blobs/new", true))
	assert.Empty(t, released, "inline payload has nothing to release")
	assert.Equal(t, "http://blobs/new", got.Image.URL)
}

func TestAttachSameImageReleasesNothing(t *testing.T) {
	img := model.ExternalImage("http://blobs/same", true)
	_, released := AttachImage(model.Item{Image: img}, img)
	assert.Empty(t, released)
}

func TestRemoveImage(t *testing.T) {
	got, released := RemoveImage(model.Item{Image: model.ExternalImage("http://blobs/x", true)})
	assert.Equal(t, "http://blobs/x", released)
	assert.True(t, got.Image.IsNone())

	_, released = RemoveImage(model.Item{Image: model.ExternalImage("http://cdn/y", false)})
	assert.Empty(t, released, "unowned references are never released")
}

func TestPatchDiff(t *testing.T) {
	before := model.Item{ID: "a", Name: "Milk", Stock: 1}
	after, err := ApplyDelta(before, 2, now)
	require.NoError(t, err)

	p := Patch(before, after)
	require.NotNil(t, p.Stock)
	require.NotNil(t, p.LastUsed)
	assert.Equal(t, 3, *p.Stock)
	assert.Nil(t, p.Name)
	assert.Nil(t, p.Image)
}

func TestNewDraft(t *testing.T) {
	d := NewDraft("id-1", now)
	assert.Equal(t, "id-1", d.ID)
	assert.Empty(t, d.Name)
	assert.Equal(t, 0, d.Stock)
	assert.True(t, d.Image.IsNone())
	assert.True(t, d.CreatedAt.Equal(now))
}
