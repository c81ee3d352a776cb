package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the local SQLite mirror of threads and messages. It only exists
// so a restarting daemon can show the last known state before the first
// snapshot returns; the in-memory thread store stays canonical.
type DB struct {
	*sql.DB
	selfID string
}

// Open creates the cache connection with WAL mode and busy timeout.
func Open(path, selfID string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	return &DB{DB: db, selfID: selfID}, nil
}
