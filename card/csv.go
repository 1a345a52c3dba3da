package card

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Columns of tabular export. Reading accepts any column order but requires
// all columns marked as required.
var Columns = []string{
	"id",
	"created_timestamp",
	"message_group",
	"sender_email",
	"sender_name",
	"recipient_email",
	"recipient_name",
	"message_content",
	"attachment_id",
	"attachment",
}

var requiredColumns = []string{"id", "recipient_email", "recipient_name", "sender_name", "message_content"}

var ErrNoHeader = errors.New("tabular data has no header")

func (c *Card) record() []string {
	return []string{
		c.ID,
		c.Created,
		c.Group,
		c.SenderEmail,
		c.SenderName,
		c.RecipientEmail,
		c.RecipientName,
		c.Message,
		c.VariantID,
		c.VariantName,
	}
}

// WriteCSV writes header and one row per card in the given order.
func WriteCSV(w io.Writer, cards []Card) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("unable to write header: %w", err)
	}
	for i := range cards {
		if err := cw.Write(cards[i].record()); err != nil {
			return fmt.Errorf("unable to write card %s: %w", cards[i].ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads cards from tabular data with a header row.
func ReadCSV(r io.Reader) ([]Card, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("required column %q is missing", name)
		}
	}

	var cards []Card
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to read line %d: %w", line, err)
		}
		get := func(name string) string {
			if i, ok := index[name]; ok && i < len(rec) {
				return rec[i]
			}
			return ""
		}
		if slices.IndexFunc(rec, func(s string) bool { return len(s) > 0 }) < 0 {
			continue
		}
		cards = append(cards, Card{
			ID:             get("id"),
			Created:        get("created_timestamp"),
			Group:          get("message_group"),
			SenderEmail:    get("sender_email"),
			SenderName:     get("sender_name"),
			RecipientEmail: get("recipient_email"),
			RecipientName:  get("recipient_name"),
			Message:        get("message_content"),
			VariantID:      get("attachment_id"),
			VariantName:    get("attachment"),
		})
	}
	return cards, nil
}
