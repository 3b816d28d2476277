// Package db opens insteond's SQLite file: the send/refresh history and the
// geocoded location live side by side in one database.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the shared handle. It embeds *sql.DB so the ledger and geocache query
// it directly.
type DB struct {
	*sql.DB
}

// schema is applied in order on every open; each statement is idempotent.
var schema = []struct {
	name string
	ddl  string
}{
	{"event_ledger", `
		CREATE TABLE IF NOT EXISTS event_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT,
			source TEXT,
			generation TEXT,
			address TEXT
		)`},
	{"idx_ledger_type_ts", `
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp)`},
	// Per-device history ignores refresh rows, which carry no address.
	{"idx_ledger_address_ts", `
		CREATE INDEX IF NOT EXISTS idx_ledger_address_ts ON event_ledger(address, timestamp)
		WHERE address IS NOT NULL AND address != ''`},
	{"geocache", `
		CREATE TABLE IF NOT EXISTS geocache (
			query TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`},
}

// Open creates the file if needed and applies the schema. Pass ":memory:"
// for a throwaway database in tests.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// A single connection keeps ":memory:" databases from splitting across
	// the pool.
	conn.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := conn.Exec(stmt.ddl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	return &DB{conn}, nil
}
