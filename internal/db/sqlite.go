package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type SQLiteOpts struct {
	PingTimeout time.Duration
}

// NewSQLiteConnection opens a *sqlx.DB backed by modernc.org/sqlite.
// Use ":memory:" for an in-memory database or a file path.
//
// SQLite allows a single writer, so the pool is capped at one connection.
// This also keeps ":memory:" databases shared across callers.
func NewSQLiteConnection(dsn string, opts SQLiteOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty SQLite DSN")
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeoutOr(opts.PingTimeout, 5*time.Second))
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
