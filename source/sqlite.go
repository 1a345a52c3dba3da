package source

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"cardgen/card"
	"cardgen/catalog"
)

const cardsQuery = `SELECT messages.id, messages.created_timestamp, messages.message_group,
		messages.sender_email, messages.sender_name, messages.recipient_email, messages.recipient_name,
		messages.message_content, attachment_prefs.attachment_id, attachments.attachment
	FROM messages
	LEFT JOIN attachment_prefs ON messages.recipient_email = attachment_prefs.recipient_email
		AND messages.message_group = attachment_prefs.message_group
	LEFT JOIN attachments ON attachment_prefs.attachment_id = attachments.id`

// DB is a source backed by message database.
type DB struct {
	conn *sqlite.Conn
}

// OpenDB opens database read only.
func OpenDB(path string) (*DB, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	return &DB{conn: conn}, nil
}

func scanCard(stmt *sqlite.Stmt) card.Card {
	return card.Card{
		ID:             stmt.ColumnText(0),
		Created:        stmt.ColumnText(1),
		Group:          stmt.ColumnText(2),
		SenderEmail:    stmt.ColumnText(3),
		SenderName:     stmt.ColumnText(4),
		RecipientEmail: stmt.ColumnText(5),
		RecipientName:  stmt.ColumnText(6),
		Message:        stmt.ColumnText(7),
		VariantID:      stmt.ColumnText(8),
		VariantName:    stmt.ColumnText(9),
	}
}

func (s *DB) Cards(ctx context.Context, group string, alphabetical bool) ([]card.Card, error) {
	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	query := cardsQuery
	var args []any
	if len(group) > 0 {
		query += " WHERE messages.message_group = ?"
		args = append(args, group)
	}
	if alphabetical {
		query += " ORDER BY messages.recipient_email ASC"
	}

	var res []card.Card
	err := sqlitex.Execute(s.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			res = append(res, scanCard(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query cards: %w", err)
	}
	if alphabetical {
		// keep order stable regardless of query plan
		card.SortAlphabetical(res)
	}
	return res, nil
}

func (s *DB) Card(ctx context.Context, id string) (*card.Card, error) {
	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	var res *card.Card
	err := sqlitex.Execute(s.conn, cardsQuery+" WHERE messages.id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if res == nil {
				c := scanCard(stmt)
				res = &c
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query card: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	return res, nil
}

// Variants are attachments of the group, newest first.
func (s *DB) Variants(ctx context.Context, group string) ([]catalog.Variant, error) {
	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	var res []catalog.Variant
	err := sqlitex.Execute(s.conn, `SELECT id, attachment FROM attachments WHERE message_group = ? ORDER BY id DESC`, &sqlitex.ExecOptions{
		Args: []any{group},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			res = append(res, catalog.Variant{ID: stmt.ColumnText(0), Name: stmt.ColumnText(1)})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query variants: %w", err)
	}
	return res, nil
}

func (s *DB) Close() error {
	return s.conn.Close()
}
