package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFile is used when no path is configured.
const DefaultDBFile = "handoffs.db"

// InitDB opens the SQLite database at path and creates the handoffs table if
// it doesn't exist. Use ":memory:" for a throwaway ledger.
func InitDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultDBFile
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS handoffs (
		id TEXT PRIMARY KEY,
		instance_id TEXT,
		torrent_path TEXT NOT NULL,
		download_dir TEXT,
		worker TEXT,
		status TEXT NOT NULL,
		size_bytes INTEGER DEFAULT 0,
		finished_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create handoffs table: %w", err)
	}

	return db, nil
}
