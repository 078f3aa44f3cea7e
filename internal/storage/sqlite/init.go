package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// Fixed-width so that lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		filename TEXT NOT NULL UNIQUE,
		remote_id TEXT NOT NULL,
		tag TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		locked_by TEXT,
		last_error TEXT,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS downloads_status_idx ON downloads (status)`,
	`CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		moves INTEGER NOT NULL DEFAULT 0,
		deletes INTEGER NOT NULL DEFAULT 0,
		downloads INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		published INTEGER NOT NULL DEFAULT 0,
		published_files INTEGER NOT NULL DEFAULT 0,
		error TEXT
	)`,
}

// InitDB opens the journal database at path and creates its tables.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Parallel downloads share one connection so writers never hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()

			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return db, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
