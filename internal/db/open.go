package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// StoreOpts selects and tunes the event store connection.
type StoreOpts struct {
	Driver string
	DSN    string
	MySQLOpts
}

// OpenStore opens the event store database for the configured driver.
func OpenStore(opts StoreOpts) (*sqlx.DB, error) {
	switch opts.Driver {
	case DriverMySQL, "":
		return NewMySQLConnection(opts.DSN, opts.MySQLOpts)
	case DriverSQLite:
		return NewSQLiteConnection(opts.DSN, SQLiteOpts{PingTimeout: opts.PingTimeout})
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}

// pingTimeoutOr returns d, or def when d is not set.
func pingTimeoutOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
