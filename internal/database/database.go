// Package database provides SQLite connection management and utilities.
package database

import (
	"fmt"
	"net/url"
	"time"

	"database/sql"

	_ "modernc.org/sqlite"
)

// Config holds database configuration settings.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Connect opens the SQLite database holding all durable sync stores.
// WAL mode keeps concurrent producer enqueues from blocking the engine loop;
// a single open connection serializes writes so journal steps land in order.
func Connect(cfg Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(FULL)",
		url.PathEscape(cfg.Path),
		cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
