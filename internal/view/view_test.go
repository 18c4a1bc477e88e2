package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/erazemk/zaloga/internal/model"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func sample() []model.Item {
	return []model.Item{
		{ID: "1", Name: "Milk", Stock: 1, MinStock: 2, CreatedAt: base, LastUsed: base.Add(3 * time.Hour)},
		{ID: "2", Name: "bread", Stock: 0, MinStock: 1, Notes: "from the bakery", CreatedAt: base.Add(time.Hour)},
		{ID: "3", Name: "Rice", Stock: 9, CreatedAt: base.Add(2 * time.Hour), LastUsed: base.Add(time.Hour)},
		{ID: "4", Name: "Almond milk", Stock: 0, CreatedAt: base.Add(4 * time.Hour)},
	}
}

func TestSearchIsCaseInsensitiveSubstring(t *testing.T) {
	items := []model.Item{{ID: "m", Name: "Milk"}, {ID: "b", Name: "Bread"}}
	assert.Equal(t, []string{"m"}, ids(Apply(items, Query{Search: "mil"})))
	assert.Equal(t, []string{"m"}, ids(Apply(items, Query{Search: "MIL"})))
	assert.Equal(t, []string{"b", "m"}, ids(Apply(items, Query{Search: "  "})))
}

func TestSearchNotes(t *testing.T) {
	items := sample()
	assert.Empty(t, Apply(items, Query{Search: "bakery"}))
	assert.Equal(t, []string{"2"}, ids(Apply(items, Query{Search: "bakery", SearchNotes: true})))
}

func TestFilters(t *testing.T) {
	items := sample()
	assert.Equal(t, []string{"1"}, ids(Apply(items, Query{Filter: FilterLow})))
	assert.Equal(t, []string{"4", "2"}, ids(Apply(items, Query{Filter: FilterZero})))
	assert.Len(t, Apply(items, Query{Filter: FilterAll}), 4)
}

func TestLowAndZeroAreDisjoint(t *testing.T) {
	var items []model.Item
	for stock := 0; stock < 6; stock++ {
		for min := 0; min < 6; min++ {
			items = append(items, model.Item{ID: string(rune('a'+stock)) + string(rune('a'+min)), Stock: stock, MinStock: min})
		}
	}
	low := map[string]bool{}
	for _, it := range Apply(items, Query{Filter: FilterLow}) {
		low[it.ID] = true
	}
	for _, it := range Apply(items, Query{Filter: FilterZero}) {
		assert.False(t, low[it.ID], "item %s is both low and zero", it.ID)
	}
}

func TestSearchRunsBeforeFilter(t *testing.T) {
	got := Apply(sample(), Query{Search: "milk", Filter: FilterZero})
	assert.Equal(t, []string{"4"}, ids(got))
}

func TestSortName(t *testing.T) {
	got := Apply(sample(), Query{Sort: SortName})
	assert.Equal(t, []string{"4", "2", "1", "3"}, ids(got))
}

func TestDefaultSortIsName(t *testing.T) {
	items := []model.Item{{ID: "r", Name: "Rice"}, {ID: "a", Name: "Apple"}, {ID: "m", Name: "milk"}}
	sort, err := ParseSort("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "m", "r"}, ids(Apply(items, Query{Sort: sort})))
	assert.Equal(t, []string{"r", "a", "m"}, ids(Apply(items, Query{Sort: SortNone})))
}

func TestSortNameUsesLocale(t *testing.T) {
	items := []model.Item{{ID: "1", Name: "čaj"}, {ID: "2", Name: "cimet"}, {ID: "3", Name: "dren"}}
	got := Apply(items, Query{Sort: SortName, Locale: language.Slovenian})
	assert.Equal(t, []string{"2", "1", "3"}, ids(got))
}

func TestSortQuantityDescendingWithIDTieBreak(t *testing.T) {
	got := Apply(sample(), Query{Sort: SortQuantity})
	assert.Equal(t, []string{"3", "1", "2", "4"}, ids(got))
}

func TestSortRecency(t *testing.T) {
	// lastUsed falls back to createdAt: 4 (04:00), 1 (03:00), 3 (01:00), 2 (01:00).
	got := Apply(sample(), Query{Sort: SortRecency})
	assert.Equal(t, []string{"4", "1", "2", "3"}, ids(got))
}

func TestApplyIsIdempotentAndPure(t *testing.T) {
	items := sample()
	for _, q := range []Query{
		{Sort: SortName},
		{Sort: SortQuantity, Filter: FilterZero},
		{Search: "i", Sort: SortRecency},
	} {
		once := Apply(items, q)
		twice := Apply(once, q)
		assert.Equal(t, ids(once), ids(twice), "query %+v", q)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(items), "input must not be reordered")
}

func TestParse(t *testing.T) {
	f, err := ParseFilter("LOW")
	require.NoError(t, err)
	assert.Equal(t, FilterLow, f)
	_, err = ParseFilter("empty")
	assert.ErrorIs(t, err, model.ErrValidation)

	s, err := ParseSort("stock")
	require.NoError(t, err)
	assert.Equal(t, SortQuantity, s)
	s, err = ParseSort("")
	require.NoError(t, err)
	assert.Equal(t, SortDefault, s)
	s, err = ParseSort("none")
	require.NoError(t, err)
	assert.Equal(t, SortNone, s)
	_, err = ParseSort("price")
	assert.Error(t, err)
}

func TestSessionAppliesInitialOrderOnce(t *testing.T) {
	var s Session
	items := sample()

	first := s.View(items, Query{})
	assert.Equal(t, []string{"4", "1", "2", "3"}, ids(first))

	// Using Rice makes it the most recent, but the frozen order holds.
	items[2].LastUsed = base.Add(10 * time.Hour)
	items = append(items, model.Item{ID: "5", Name: "Salt", CreatedAt: base.Add(20 * time.Hour)})
	second := s.View(items, Query{})
	assert.Equal(t, []string{"4", "1", "2", "3", "5"}, ids(second))

	// Filters still apply within the frozen order.
	assert.Equal(t, []string{"4", "2"}, ids(s.View(items, Query{Filter: FilterZero})))

	// An explicit sort wins and the frozen order is gone for good.
	assert.Equal(t, []string{"3", "1", "2", "4", "5"}, ids(s.View(items, Query{Sort: SortQuantity})))
	// Without a choice the session falls back to name order, not collection order.
	assert.Equal(t, []string{"4", "2", "1", "3", "5"}, ids(s.View(items, Query{})))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(s.View(items, Query{Sort: SortNone})))

	s.Reset()
	assert.Equal(t, "5", s.View(items, Query{})[0].ID)
}

func TestSummarize(t *testing.T) {
	r := Summarize(sample())
	assert.Equal(t, 4, r.TotalItems)
	assert.Equal(t, 10, r.TotalUnits)
	assert.Equal(t, []string{"1"}, ids(r.Low))
	assert.Equal(t, []string{"2", "4"}, ids(r.Zero))
}
