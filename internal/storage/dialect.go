package storage

import (
	"context"
	"database/sql"
)

// SQLGenerator produces every SQL string the engine issues. No package
// outside internal/storage/dialect/* builds a SQL string directly; each
// dialect is a variant implementation rather than a string template.
type SQLGenerator interface {
	// QuoteIdentifier quotes a schema/table/column name per the dialect's
	// identifier-quoting rule.
	QuoteIdentifier(name string) string

	// Placeholder returns the bound-parameter placeholder for the i-th
	// (1-based) parameter in a statement: "?", "$1", "@p1", ":1", etc.
	Placeholder(i int) string

	// CreateTableDDL returns the ordered DDL statements (table + indexes +
	// FKs) needed to create the entries table from scratch.
	CreateTableDDL(schemaName, tableName string) []string

	// ColumnIntrospectionQuery returns a query (against the backend's
	// catalog) that selects the name of every existing column of tableName;
	// an empty result set means the table does not exist at all.
	ColumnIntrospectionQuery(schemaName, tableName string) (query string, args []any)

	// UpsertEntry returns the single-statement insert-or-update SQL. Some
	// dialects (SQL Server) reference the same bound value at more than one
	// position, so the argument list to pair with it must come from
	// UpsertArgs rather than a fixed column order.
	UpsertEntry(schemaName, tableName string) string
	// UpsertArgs returns the argument list matching UpsertEntry's
	// placeholder occurrences, in order.
	UpsertArgs(e *CacheEntry) []any

	DeleteEntry(schemaName, tableName string) string
	DeleteEntries(schemaName, tableName string, partitionScoped, ignoreExpiry bool) string
	UpdateEntryExpiry(schemaName, tableName string) string
	ContainsEntry(schemaName, tableName string) string
	CountEntries(schemaName, tableName string, partitionScoped, ignoreExpiry bool) string
	PeekEntry(schemaName, tableName string) string
	PeekEntries(schemaName, tableName string, partitionScoped bool) string
	// PeekEntriesByParent selects the live rows in one partition whose
	// parent slots name a given key. Bound parameters: partition, the
	// parent key repeated once per slot, then the current time.
	PeekEntriesByParent(schemaName, tableName string) string
	ListPartitions(schemaName, tableName string) string
	CacheSizeBytes(schemaName, tableName string) string
	// VacuumStatement returns "" when the backend has no such concept.
	VacuumStatement() string
}

// Dialect binds a driver to a SQLGenerator.
type Dialect interface {
	// Name is the dialect's short name, matching settings.Dialect values.
	Name() string
	// Open establishes a *sql.DB for dsn. The returned *sql.DB's pool
	// limits are the caller's responsibility to set.
	Open(ctx context.Context, dsn string) (*sql.DB, error)
	// Generator returns the SQLGenerator for this dialect.
	Generator() SQLGenerator
	// IsForeignKeyViolation classifies a driver error as a parent-reference
	// violation.
	IsForeignKeyViolation(err error) bool
	// IsTransient classifies a driver error as retryable
	// (kverrors.BackendUnavailable candidate).
	IsTransient(err error) bool
}
