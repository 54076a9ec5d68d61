package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kvlite/kvlite/internal/kverrors"
)

// BackendFactory builds a Dialect; the DSN is passed later to its Open.
// Each dialect subpackage registers one via RegisterBackend in an init func.
type BackendFactory func() Dialect

var backendRegistry = make(map[string]BackendFactory)

// RegisterBackend registers a Dialect constructor under name. Called from
// each dialect subpackage's init().
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// ConnectionFactory is the dialect-bound object the engine drives: it owns
// the *sql.DB pool and turns CacheEntry-shaped calls into the dialect's SQL
// text plus correctly-ordered bound parameters.
type ConnectionFactory struct {
	db         *sql.DB
	dialect    Dialect
	schemaName string
	tableName  string
}

// Options configures pool sizing for a new ConnectionFactory.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
}

// Open resolves dialectName from the registry, opens a *sql.DB for dsn,
// applies pool limits, and ensures the schema exists.
func Open(ctx context.Context, dialectName, dsn, schemaName, tableName string, opts Options) (*ConnectionFactory, error) {
	const op = "storage.Open"
	ctor, ok := backendRegistry[dialectName]
	if !ok {
		return nil, kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("unknown dialect %q (forgot a blank import of its dialect package?)", dialectName))
	}
	d := ctor()

	db, err := d.Open(ctx, dsn)
	if err != nil {
		return nil, kverrors.New(kverrors.BackendUnavailable, op, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, kverrors.New(kverrors.BackendUnavailable, op, err)
	}

	cf := &ConnectionFactory{db: db, dialect: d, schemaName: schemaName, tableName: tableName}
	if err := EnsureSchema(ctx, cf); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cf, nil
}

// Close drains and closes the underlying pool.
func (cf *ConnectionFactory) Close() error { return cf.db.Close() }

// ConnectionFactory returns cf itself, letting a bare factory satisfy the
// maintenance loop's factory-source contract alongside the engine, whose
// implementation returns whatever factory is live after a reconfigure.
func (cf *ConnectionFactory) ConnectionFactory() *ConnectionFactory { return cf }

// DB exposes the underlying pool for callers that need raw access to it.
func (cf *ConnectionFactory) DB() *sql.DB { return cf.db }

// Dialect exposes the bound Dialect.
func (cf *ConnectionFactory) Dialect() Dialect { return cf.dialect }

func (cf *ConnectionFactory) gen() SQLGenerator { return cf.dialect.Generator() }

// UpsertEntry performs the single-trip insert-or-update: one statement,
// last writer wins, no duplicate-key error surfaced to the caller.
func (cf *ConnectionFactory) UpsertEntry(ctx context.Context, e *CacheEntry) error {
	stmt := cf.gen().UpsertEntry(cf.schemaName, cf.tableName)
	args := cf.gen().UpsertArgs(e)
	_, err := cf.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		if cf.dialect.IsForeignKeyViolation(err) {
			return kverrors.New(kverrors.InvalidArgument, "storage.UpsertEntry", err)
		}
		return kverrors.New(kverrors.BackendUnavailable, "storage.UpsertEntry", err)
	}
	return nil
}

// DeleteEntry removes exactly the row (partition, key), if present.
func (cf *ConnectionFactory) DeleteEntry(ctx context.Context, partition, key string) error {
	stmt := cf.gen().DeleteEntry(cf.schemaName, cf.tableName)
	_, err := cf.db.ExecContext(ctx, stmt, partition, key)
	return wrapExec(err, "storage.DeleteEntry")
}

// DeleteEntries performs the bulk sweep/clear statement and returns the
// number of rows removed.
func (cf *ConnectionFactory) DeleteEntries(ctx context.Context, partition string, partitionScoped, ignoreExpiry bool, nowUnix int64) (int64, error) {
	stmt := cf.gen().DeleteEntries(cf.schemaName, cf.tableName, partitionScoped, ignoreExpiry)
	args := scopedArgs(partition, partitionScoped, ignoreExpiry, nowUnix)
	res, err := cf.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, wrapExec(err, "storage.DeleteEntries")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, kverrors.New(kverrors.BackendUnavailable, "storage.DeleteEntries", err)
	}
	return n, nil
}

// UpdateEntryExpiry extends utc_expiry for (partition, key); used only by
// sliding reads. Affecting zero rows (a concurrent delete raced ahead) is
// not an error.
func (cf *ConnectionFactory) UpdateEntryExpiry(ctx context.Context, partition, key string, newExpiry int64) error {
	stmt := cf.gen().UpdateEntryExpiry(cf.schemaName, cf.tableName)
	_, err := cf.db.ExecContext(ctx, stmt, newExpiry, partition, key)
	return wrapExec(err, "storage.UpdateEntryExpiry")
}

// ContainsEntry reports existence-and-not-expired for (partition, key).
func (cf *ConnectionFactory) ContainsEntry(ctx context.Context, partition, key string, nowUnix int64) (bool, error) {
	stmt := cf.gen().ContainsEntry(cf.schemaName, cf.tableName)
	var one int
	err := cf.db.QueryRowContext(ctx, stmt, partition, key, nowUnix).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapExec(err, "storage.ContainsEntry")
	}
	return true, nil
}

// CountEntries counts rows, optionally scoped to one partition and
// optionally including expired rows.
func (cf *ConnectionFactory) CountEntries(ctx context.Context, partition string, partitionScoped, ignoreExpiry bool, nowUnix int64) (int64, error) {
	stmt := cf.gen().CountEntries(cf.schemaName, cf.tableName, partitionScoped, ignoreExpiry)
	args := scopedArgs(partition, partitionScoped, ignoreExpiry, nowUnix)
	var n int64
	if err := cf.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, wrapExec(err, "storage.CountEntries")
	}
	return n, nil
}

// PeekEntry reads the full row without the sliding side-effect.
func (cf *ConnectionFactory) PeekEntry(ctx context.Context, partition, key string, nowUnix int64) (*CacheEntry, bool, error) {
	stmt := cf.gen().PeekEntry(cf.schemaName, cf.tableName)
	row := cf.db.QueryRowContext(ctx, stmt, partition, key, nowUnix)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapExec(err, "storage.PeekEntry")
	}
	return e, true, nil
}

// PeekEntries streams all live rows, optionally scoped to one partition.
func (cf *ConnectionFactory) PeekEntries(ctx context.Context, partition string, partitionScoped bool, nowUnix int64) ([]*CacheEntry, error) {
	stmt := cf.gen().PeekEntries(cf.schemaName, cf.tableName, partitionScoped)
	var args []any
	if partitionScoped {
		args = append(args, partition)
	}
	args = append(args, nowUnix)

	rows, err := cf.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrapExec(err, "storage.PeekEntries")
	}
	defer rows.Close()

	var out []*CacheEntry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, wrapExec(err, "storage.PeekEntries")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapExec(err, "storage.PeekEntries")
	}
	return out, nil
}

// PeekEntriesByParent returns the live rows in partition that reference
// parentKey in any parent slot.
func (cf *ConnectionFactory) PeekEntriesByParent(ctx context.Context, partition, parentKey string, nowUnix int64) ([]*CacheEntry, error) {
	stmt := cf.gen().PeekEntriesByParent(cf.schemaName, cf.tableName)
	args := []any{partition}
	for i := 0; i < MaxParentKeys; i++ {
		args = append(args, parentKey)
	}
	args = append(args, nowUnix)

	rows, err := cf.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrapExec(err, "storage.PeekEntriesByParent")
	}
	defer rows.Close()

	var out []*CacheEntry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, wrapExec(err, "storage.PeekEntriesByParent")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapExec(err, "storage.PeekEntriesByParent")
	}
	return out, nil
}

// ListPartitions returns the distinct partition names currently present.
func (cf *ConnectionFactory) ListPartitions(ctx context.Context) ([]string, error) {
	stmt := cf.gen().ListPartitions(cf.schemaName, cf.tableName)
	rows, err := cf.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, wrapExec(err, "storage.ListPartitions")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrapExec(err, "storage.ListPartitions")
		}
		out = append(out, p)
	}
	return out, wrapExec(rows.Err(), "storage.ListPartitions")
}

// CacheSizeBytes returns the backend's accounting of stored value bytes.
func (cf *ConnectionFactory) CacheSizeBytes(ctx context.Context) (int64, error) {
	stmt := cf.gen().CacheSizeBytes(cf.schemaName, cf.tableName)
	var n sql.NullInt64
	if err := cf.db.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, wrapExec(err, "storage.CacheSizeBytes")
	}
	return n.Int64, nil
}

// Vacuum runs the dialect's optimization statement, if it has one.
func (cf *ConnectionFactory) Vacuum(ctx context.Context) error {
	stmt := cf.gen().VacuumStatement()
	if stmt == "" {
		return nil
	}
	_, err := cf.db.ExecContext(ctx, stmt)
	return wrapExec(err, "storage.Vacuum")
}

func scopedArgs(partition string, partitionScoped, ignoreExpiry bool, nowUnix int64) []any {
	var args []any
	if partitionScoped {
		args = append(args, partition)
	}
	if !ignoreExpiry {
		args = append(args, nowUnix)
	}
	return args
}

func wrapExec(err error, op string) error {
	if err == nil {
		return nil
	}
	return kverrors.New(kverrors.BackendUnavailable, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row *sql.Row) (*CacheEntry, error) {
	return scanInto(row)
}

func scanEntryRows(rows *sql.Rows) (*CacheEntry, error) {
	return scanInto(rows)
}

func scanInto(s rowScanner) (*CacheEntry, error) {
	var e CacheEntry
	var parents [MaxParentKeys]sql.NullString
	dest := []any{
		&e.ID, &e.Partition, &e.Key, &e.UTCExpiry, &e.Interval, &e.Value, &e.Compressed, &e.UTCCreation,
	}
	for i := range parents {
		dest = append(dest, &parents[i])
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	for i, p := range parents {
		if p.Valid {
			e.ParentKeys[i] = p.String
		}
	}
	return &e, nil
}
