// Package mysql implements the storage.Dialect for MySQL (and Dolt's
// MySQL-wire-compatible server), using go-sql-driver/mysql and the
// ON DUPLICATE KEY UPDATE upsert idiom.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/kvlite/kvlite/internal/storage"
)

func init() {
	storage.RegisterBackend("mysql", func() storage.Dialect { return Dialect{} })
}

// Dialect implements storage.Dialect for MySQL.
type Dialect struct{}

// Name implements storage.Dialect.
func (Dialect) Name() string { return "mysql" }

// Open opens a *sql.DB for dsn, appending parseTime=true when the caller's
// DSN doesn't already specify a params block, since utc_expiry/utc_creation
// round-trip as plain integers and don't need it, but query parameters
// bound as time.Time elsewhere in a host application usually do.
func (Dialect) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["parseTime"]; !ok {
		cfg.Params["parseTime"] = "true"
	}
	return sql.Open("mysql", cfg.FormatDSN())
}

// Generator implements storage.Dialect.
func (Dialect) Generator() storage.SQLGenerator { return generator{} }

// IsForeignKeyViolation implements storage.Dialect. MySQL error 1452:
// "Cannot add or update a child row: a foreign key constraint fails".
func (Dialect) IsForeignKeyViolation(err error) bool {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1452
	}
	return false
}

// IsTransient implements storage.Dialect.
func (Dialect) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysqldriver.ErrInvalidConn) {
		return true
	}
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1205, // lock wait timeout
			1213, // deadlock
			1040, // too many connections
			2006, // server has gone away
			2013: // lost connection during query
			return true
		}
	}
	return strings.Contains(err.Error(), "driver: bad connection")
}

var _ storage.Dialect = Dialect{}
