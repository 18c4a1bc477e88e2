package view

import (
	"slices"
	"sync"

	"github.com/erazemk/zaloga/internal/model"
)

// Session remembers the ordering a user has been looking at.
//
// The first view without a chosen sort orders the collection by recency once
// and freezes that id order. Later such views keep it, with items created
// since then appended in collection order, so the list doesn't reshuffle under
// the user after every tap. Choosing a sort drops the frozen order for the
// rest of the session; from then on no choice means name order.
type Session struct {
	mu       sync.Mutex
	frozen   map[string]int
	explicit bool
}

// View applies q to items, honouring the session's one-time initial ordering
// when q.Sort is SortDefault.
func (s *Session) View(items []model.Item, q Query) []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.Sort != SortDefault {
		s.explicit = true
		s.frozen = nil
		return Apply(items, q)
	}
	if s.explicit {
		return Apply(items, q)
	}

	if s.frozen == nil {
		initial := model.CloneItems(items)
		slices.SortStableFunc(initial, byRecency)
		s.frozen = make(map[string]int, len(initial))
		for i, item := range initial {
			s.frozen[item.ID] = i
		}
	}

	out := Select(items, q)
	slices.SortStableFunc(out, func(a, b model.Item) int {
		ra, okA := s.frozen[a.ID]
		rb, okB := s.frozen[b.ID]
		switch {
		case okA && okB:
			return ra - rb
		case okA:
			return -1
		case okB:
			return 1
		}
		return 0
	})
	return out
}

// Reset forgets the frozen order and any explicit sort, as on a fresh start.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = nil
	s.explicit = false
}
