package aggregates

import (
	"errors"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
)

// DefaultCapacity bounds how many stars a sky keeps in memory.
const DefaultCapacity = 200

// Merge appends incoming to existing unless a wish with the same id is
// already present, then drops the oldest entries beyond capacity. The input
// slice is never modified. The second result reports whether incoming was added.
func Merge(existing []entities.Wish, incoming entities.Wish, capacity int) ([]entities.Wish, bool) {
	for _, w := range existing {
		if w.ID == incoming.ID {
			return existing, false
		}
	}

	next := make([]entities.Wish, 0, len(existing)+1)
	next = append(next, existing...)
	next = append(next, incoming)
	if capacity > 0 && len(next) > capacity {
		next = next[len(next)-capacity:]
	}
	return next, true
}

// Sky is the in-memory, arrival-ordered set of stars for one namespace.
// Mutations are monotonic: wishes are appended or merged, never edited in
// place, except for the coordinate repair pass.
//
// Sky is not safe for concurrent use; the scene orchestrator owns it.
type Sky struct {
	capacity int
	wishes   []entities.Wish
	ids      map[string]struct{}
}

// NewSky creates an empty sky holding at most capacity wishes.
func NewSky(capacity int) *Sky {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sky{
		capacity: capacity,
		ids:      make(map[string]struct{}),
	}
}

// Capacity returns the eviction bound.
func (s *Sky) Capacity() int {
	return s.capacity
}

// Contains reports whether a wish with id is present.
func (s *Sky) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of wishes held.
func (s *Sky) Len() int {
	return len(s.wishes)
}

// Merge adds w if its id is unknown, evicting the oldest arrival when full.
func (s *Sky) Merge(w entities.Wish) bool {
	if s.Contains(w.ID) {
		return false
	}

	s.wishes = append(s.wishes, w)
	s.ids[w.ID] = struct{}{}

	for len(s.wishes) > s.capacity {
		delete(s.ids, s.wishes[0].ID)
		s.wishes[0] = entities.Wish{}
		s.wishes = s.wishes[1:]
	}
	return true
}

// MergeAll merges ws in order and returns the ones that were added.
func (s *Sky) MergeAll(ws []entities.Wish) []entities.Wish {
	added := make([]entities.Wish, 0, len(ws))
	for _, w := range ws {
		if s.Merge(w) {
			added = append(added, w)
		}
	}
	return added
}

// Get returns the wish with id.
func (s *Sky) Get(id string) (entities.Wish, bool) {
	if !s.Contains(id) {
		return entities.Wish{}, false
	}
	for _, w := range s.wishes {
		if w.ID == id {
			return w, true
		}
	}
	return entities.Wish{}, false
}

// Wishes returns a copy of the stars, oldest arrival first.
func (s *Sky) Wishes() []entities.Wish {
	out := make([]entities.Wish, len(s.wishes))
	copy(out, s.wishes)
	return out
}

// NeedsRepair reports whether any wish still carries legacy pixel coordinates.
func (s *Sky) NeedsRepair() bool {
	for _, w := range s.wishes {
		if !valueobjects.LooksNormalized(w.Position()) {
			return true
		}
	}
	return false
}

// Repair converts legacy pixel coordinates into fractions of ref. It returns
// the repaired wishes, or valueobjects.ErrLayoutPending when ref is not laid
// out yet, in which case nothing changes.
func (s *Sky) Repair(ref valueobjects.Rect) ([]entities.Wish, error) {
	if !ref.Valid() {
		return nil, valueobjects.ErrLayoutPending
	}

	var repaired []entities.Wish
	for i, w := range s.wishes {
		if valueobjects.LooksNormalized(w.Position()) {
			continue
		}
		p, err := valueobjects.Normalize(w.Position(), ref)
		if err != nil {
			if errors.Is(err, valueobjects.ErrLayoutPending) {
				return nil, err
			}
			continue
		}
		s.wishes[i] = w.WithPosition(p)
		repaired = append(repaired, s.wishes[i])
	}
	return repaired, nil
}
