package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// notificationSeq names the sequence row notification ids are drawn from.
const notificationSeq = "notifications"

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		notification_id    BIGINT       NOT NULL PRIMARY KEY,
		originator_id      VARCHAR(64)  NOT NULL,
		originator_version BIGINT       NOT NULL,
		event_type         VARCHAR(128) NOT NULL,
		payload            LONGBLOB     NOT NULL,
		created_at         BIGINT       NOT NULL,
		UNIQUE KEY uq_events_originator (originator_id, originator_version)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS event_sequence (
		name    VARCHAR(64) NOT NULL PRIMARY KEY,
		last_id BIGINT      NOT NULL
	) ENGINE=InnoDB`,
	`INSERT IGNORE INTO event_sequence (name, last_id) VALUES ('` + notificationSeq + `', 0)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		name       VARCHAR(128) NOT NULL PRIMARY KEY,
		position   BIGINT       NOT NULL,
		state      LONGBLOB     NULL,
		updated_at BIGINT       NOT NULL
	) ENGINE=InnoDB`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		notification_id    INTEGER NOT NULL PRIMARY KEY,
		originator_id      TEXT    NOT NULL,
		originator_version INTEGER NOT NULL,
		event_type         TEXT    NOT NULL,
		payload            BLOB    NOT NULL,
		created_at         INTEGER NOT NULL,
		UNIQUE (originator_id, originator_version)
	)`,
	`CREATE TABLE IF NOT EXISTS event_sequence (
		name    TEXT    NOT NULL PRIMARY KEY,
		last_id INTEGER NOT NULL
	)`,
	`INSERT OR IGNORE INTO event_sequence (name, last_id) VALUES ('` + notificationSeq + `', 0)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		name       TEXT    NOT NULL PRIMARY KEY,
		position   INTEGER NOT NULL,
		state      BLOB,
		updated_at INTEGER NOT NULL
	)`,
}

// Migrate creates the event log and checkpoint tables if they are missing.
// It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	d := dialectOf(db)
	for i, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migration step %d: %w", d.name, i+1, err)
		}
	}
	return nil
}
