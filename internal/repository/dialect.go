package repository

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const mysqlErrDuplicateEntry = 1062

// dialect carries the statements that differ between MySQL and SQLite.
type dialect struct {
	name             string
	schema           []string
	forUpdate        string
	upsertCheckpoint string
}

var (
	mysqlDialect = dialect{
		name:      "mysql",
		schema:    mysqlSchema,
		forUpdate: " FOR UPDATE",
		upsertCheckpoint: `
			INSERT INTO checkpoints (name, position, state, updated_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			    position   = VALUES(position),
			    state      = VALUES(state),
			    updated_at = VALUES(updated_at)
		`,
	}

	sqliteDialect = dialect{
		name:   "sqlite",
		schema: sqliteSchema,
		upsertCheckpoint: `
			INSERT INTO checkpoints (name, position, state, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
			    position   = excluded.position,
			    state      = excluded.state,
			    updated_at = excluded.updated_at
		`,
	}
)

func dialectOf(db *sqlx.DB) dialect {
	if db.DriverName() == "sqlite" {
		return sqliteDialect
	}
	return mysqlDialect
}

// isDuplicateKey reports a unique/primary key violation from either driver.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlErrDuplicateEntry
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

// withTx runs fn in a new transaction and commits when fn succeeds.
func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
