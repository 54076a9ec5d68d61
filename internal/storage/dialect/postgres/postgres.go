// Package postgres implements the storage.Dialect for PostgreSQL via
// jackc/pgx/v5's database/sql shim, using the ON CONFLICT DO UPDATE
// upsert idiom.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kvlite/kvlite/internal/storage"
)

func init() {
	storage.RegisterBackend("postgres", func() storage.Dialect { return Dialect{} })
}

// Dialect implements storage.Dialect for PostgreSQL.
type Dialect struct{}

// Name implements storage.Dialect.
func (Dialect) Name() string { return "postgres" }

// Open implements storage.Dialect.
func (Dialect) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Generator implements storage.Dialect.
func (Dialect) Generator() storage.SQLGenerator { return generator{} }

// IsForeignKeyViolation implements storage.Dialect. Postgres SQLSTATE 23503
// is foreign_key_violation.
func (Dialect) IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// IsTransient implements storage.Dialect.
func (Dialect) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P03": // cannot_connect_now
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection refused")
}

var _ storage.Dialect = Dialect{}
