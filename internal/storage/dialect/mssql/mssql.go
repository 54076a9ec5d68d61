// Package mssql implements the storage.Dialect for Microsoft SQL Server
// via microsoft/go-mssqldb, using an UPDATE-then-conditional-INSERT
// upsert batch: SQL Server has no MERGE-free single-statement upsert
// that's also safe under concurrent writers without a serializable hint.
package mssql

import (
	"context"
	"database/sql"
	"errors"

	mssqldriver "github.com/microsoft/go-mssqldb"

	"github.com/kvlite/kvlite/internal/storage"
)

func init() {
	storage.RegisterBackend("mssql", func() storage.Dialect { return Dialect{} })
}

// Dialect implements storage.Dialect for SQL Server.
type Dialect struct{}

// Name implements storage.Dialect.
func (Dialect) Name() string { return "mssql" }

// Open implements storage.Dialect.
func (Dialect) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	return sql.Open("sqlserver", dsn)
}

// Generator implements storage.Dialect.
func (Dialect) Generator() storage.SQLGenerator { return generator{} }

// IsForeignKeyViolation implements storage.Dialect. SQL Server error 547 is
// "The %ls statement conflicted with the %ls constraint".
func (Dialect) IsForeignKeyViolation(err error) bool {
	var me mssqldriver.Error
	if errors.As(err, &me) {
		return me.Number == 547
	}
	return false
}

// IsTransient implements storage.Dialect. Error numbers below match
// SQL Server's documented set of retriable/transient errors.
func (Dialect) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var me mssqldriver.Error
	if errors.As(err, &me) {
		switch me.Number {
		case 1205, // deadlock victim
			-2,    // client timeout
			10928, // resource limits (Azure SQL)
			10929,
			40501, // service busy (Azure SQL)
			40613: // database unavailable (Azure SQL)
			return true
		}
	}
	return false
}

var _ storage.Dialect = Dialect{}
