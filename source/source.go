// Package source reads cards to be rendered: from tabular export files or
// from message database.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"cardgen/card"
	"cardgen/catalog"
)

var ErrCardNotFound = errors.New("card not found")

// Source provides cards.
type Source interface {
	// Cards returns cards of the group (all cards when group is empty),
	// alphabetical orders them by recipient email.
	Cards(ctx context.Context, group string, alphabetical bool) ([]card.Card, error)
	// Card returns single card by id.
	Card(ctx context.Context, id string) (*card.Card, error)
	// Variants returns variants known for the group in template unit order,
	// nil when source does not know about variants.
	Variants(ctx context.Context, group string) ([]catalog.Variant, error)
	Close() error
}

// CSV is a source backed by tabular file.
type CSV struct {
	cards []card.Card
}

// OpenCSV reads all cards from the file.
func OpenCSV(path string) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open cards: %w", err)
	}
	defer f.Close()

	cards, err := card.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read cards from %s: %w", path, err)
	}
	return &CSV{cards: cards}, nil
}

func (s *CSV) Cards(ctx context.Context, group string, alphabetical bool) ([]card.Card, error) {
	var res []card.Card
	for _, c := range s.cards {
		if len(group) == 0 || len(c.Group) == 0 || c.Group == group {
			res = append(res, c)
		}
	}
	if alphabetical {
		card.SortAlphabetical(res)
	}
	return res, nil
}

func (s *CSV) Card(ctx context.Context, id string) (*card.Card, error) {
	idx := slices.IndexFunc(s.cards, func(c card.Card) bool { return c.ID == id })
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	c := s.cards[idx]
	return &c, nil
}

// Variants are not known to tabular files.
func (s *CSV) Variants(ctx context.Context, group string) ([]catalog.Variant, error) {
	return nil, nil
}

func (s *CSV) Close() error {
	return nil
}
