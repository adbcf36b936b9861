package codec

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/jsonbsync/internal/canon"
)

// SQLite encodes with SQLite's native jsonb() and decodes with json().
//
// The codec owns a private in-memory database so encoding never competes
// with a store's single writer connection. Requires SQLite 3.45 or later.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the in-memory database backing the codec and verifies
// that the linked SQLite supports JSONB.
func OpenSQLite() (*SQLite, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite codec: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	var probe []byte
	if err := db.QueryRow(`SELECT jsonb('{}')`).Scan(&probe); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite codec: jsonb unsupported: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the codec's database handle.
func (c *SQLite) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Encode returns jsonb(primary). json_valid runs first in strict RFC 8259
// mode because jsonb() on its own also accepts JSON5 text. SQLite also
// rejects well-formed documents nested more than 1000 levels deep; those
// are reported as ErrUnsupported so they are not mistaken for malformed
// input.
func (c *SQLite) Encode(ctx context.Context, primary string) ([]byte, error) {
	var out []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT CASE WHEN json_valid(?1) THEN jsonb(?1) END`, primary,
	).Scan(&out)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if out == nil {
		if canon.Valid(primary) {
			return nil, fmt.Errorf("encode: %w: rejected by sqlite json_valid", ErrUnsupported)
		}
		return nil, fmt.Errorf("encode: %w", ErrMalformed)
	}
	return out, nil
}

// Decode returns json(derived).
func (c *SQLite) Decode(ctx context.Context, derived []byte) (string, error) {
	if derived == nil {
		return "", fmt.Errorf("decode: %w: null", ErrCorrupt)
	}
	var out string
	err := c.db.QueryRowContext(ctx, `SELECT json(?)`, derived).Scan(&out)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("decode: %w", ctxErr)
		}
		return "", fmt.Errorf("decode: %w: %v", ErrCorrupt, err)
	}
	return out, nil
}
