package view

import "github.com/erazemk/zaloga/internal/model"

// Report is the inventory summary.
type Report struct {
	TotalItems int
	TotalUnits int
	Low        []model.Item
	Zero       []model.Item
}

// Summarize builds a Report over items, keeping collection order in the
// Low and Zero lists.
func Summarize(items []model.Item) Report {
	r := Report{TotalItems: len(items)}
	for _, item := range items {
		r.TotalUnits += item.Stock
		switch {
		case item.IsOut():
			r.Zero = append(r.Zero, item.Clone())
		case item.IsLow():
			r.Low = append(r.Low, item.Clone())
		}
	}
	return r
}
