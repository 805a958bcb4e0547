// Package sqlite implements domain store interfaces on an embedded SQLite
// database (pure Go driver, no CGo). A single engine process owns the file
// exclusively; the driver is pinned to one connection because SQLite is
// single-writer.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id           TEXT PRIMARY KEY,
    condition_id TEXT NOT NULL,
    side         TEXT NOT NULL,
    token_id     TEXT NOT NULL DEFAULT '',
    size         REAL NOT NULL,
    entry_price  REAL NOT NULL,
    status       TEXT NOT NULL DEFAULT 'open',
    tag          TEXT NOT NULL DEFAULT '',
    strategy     TEXT NOT NULL DEFAULT '',
    opened_at    DATETIME NOT NULL,
    closed_at    DATETIME,
    exit_price   REAL,
    realized_pnl REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(condition_id, side);
CREATE INDEX IF NOT EXISTS idx_positions_closed ON positions(closed_at DESC);
`

// Client wraps the SQLite handle and applies the schema on open.
type Client struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Client{db: db}, nil
}

// DB exposes the underlying handle to sibling stores.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the database handle.
func (c *Client) Close() error {
	return c.db.Close()
}
