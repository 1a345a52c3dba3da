// Package variant maps card variant ids to template unit positions. Unit 0
// always holds the default variant, other variants follow in the order they
// were given.
package variant

import (
	"errors"
	"fmt"

	"cardgen/card"
)

var ErrUnknownVariant = errors.New("unknown template variant")

// Map is immutable once created.
type Map struct {
	index map[string]int
	ids   []string
}

// New builds map for variants in priority order. Default variant must not be
// listed, it is always present at position 0.
func New(ids ...string) (*Map, error) {
	m := &Map{
		index: map[string]int{card.DefaultVariant: 0},
		ids:   []string{card.DefaultVariant},
	}
	for _, id := range ids {
		if len(id) == 0 || id == card.DefaultVariant {
			return nil, fmt.Errorf("variant id %q is reserved", id)
		}
		if _, exists := m.index[id]; exists {
			return nil, fmt.Errorf("duplicate variant id %q", id)
		}
		m.index[id] = len(m.ids)
		m.ids = append(m.ids, id)
	}
	return m, nil
}

// Resolve returns template unit index for variant id. Empty id means default.
func (m *Map) Resolve(id string) (int, error) {
	if len(id) == 0 {
		id = card.DefaultVariant
	}
	if idx, ok := m.index[id]; ok {
		return idx, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, id)
}

// ResolveCards returns unit index for every card. The first card with unknown
// variant fails whole resolution.
func (m *Map) ResolveCards(cards []card.Card) ([]int, error) {
	res := make([]int, len(cards))
	for i := range cards {
		idx, err := m.Resolve(cards[i].Variant())
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", cards[i].ID, err)
		}
		res[i] = idx
	}
	return res, nil
}

// Len is number of template units the map expects.
func (m *Map) Len() int {
	return len(m.ids)
}

// IDs returns variant ids ordered by unit index.
func (m *Map) IDs() []string {
	return append([]string(nil), m.ids...)
}
