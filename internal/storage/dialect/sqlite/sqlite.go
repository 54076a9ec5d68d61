// Package sqlite implements the storage.Dialect for SQLite via the
// pure-Go, cgo-free ncruces/go-sqlite3 driver — the portable default
// backend for this module's own tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kvlite/kvlite/internal/storage"
)

func init() {
	storage.RegisterBackend("sqlite", func() storage.Dialect { return Dialect{} })
}

// Dialect implements storage.Dialect for SQLite.
type Dialect struct{}

// Name implements storage.Dialect.
func (Dialect) Name() string { return "sqlite" }

// Open normalizes dsn into a file: URI with busy_timeout and foreign_keys
// pragmas applied per connection, then opens the pool.
func (Dialect) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	dsn = strings.TrimSpace(dsn)
	conn := dsn
	if !strings.HasPrefix(conn, "file:") {
		conn = "file:" + conn
	}
	sep := "?"
	if strings.Contains(conn, "?") {
		sep = "&"
	}
	if !strings.Contains(conn, "_pragma=busy_timeout") {
		conn += sep + "_pragma=busy_timeout(30000)"
		sep = "&"
	}
	if !strings.Contains(conn, "_pragma=foreign_keys") {
		conn += sep + "_pragma=foreign_keys(ON)"
	}
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, err
	}
	// SQLite allows only one writer at a time; a larger pool just produces
	// SQLITE_BUSY under the covers. The busy_timeout pragma above is what
	// actually buys concurrency tolerance.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Generator implements storage.Dialect.
func (Dialect) Generator() storage.SQLGenerator { return generator{} }

// IsForeignKeyViolation implements storage.Dialect.
func (Dialect) IsForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// IsTransient implements storage.Dialect.
func (Dialect) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

var _ storage.Dialect = Dialect{}

func qualified(schemaName, tableName string) string {
	q := generator{}
	if schemaName == "" {
		return q.QuoteIdentifier(tableName)
	}
	return fmt.Sprintf("%s.%s", q.QuoteIdentifier(schemaName), q.QuoteIdentifier(tableName))
}
