// Package kvlite is a partitioned, relational-store-backed key-value
// cache: every entry lives under (partition, key), expires either on a
// fixed deadline or a sliding/static interval, and may declare parent
// keys whose deletion cascades to it.
//
// The public surface is a thin convenience wrapper over
// internal/engine.Engine; most callers will want Open, which wires a
// Settings, a ConnectionFactory, a value Pipeline, and a Maintenance
// loop together the same way cmd/kvlite does.
package kvlite

import (
	"context"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/kvlite/kvlite/internal/clock"
	"github.com/kvlite/kvlite/internal/engine"
	"github.com/kvlite/kvlite/internal/kverrors"
	"github.com/kvlite/kvlite/internal/maintenance"
	"github.com/kvlite/kvlite/internal/pipeline"
	"github.com/kvlite/kvlite/internal/settings"
	"github.com/kvlite/kvlite/internal/storage"

	// Register every supported backend so Open works for any Dialect
	// without the caller needing blank imports of internal packages.
	_ "github.com/kvlite/kvlite/internal/storage/dialect/mssql"
	_ "github.com/kvlite/kvlite/internal/storage/dialect/mysql"
	_ "github.com/kvlite/kvlite/internal/storage/dialect/oracle"
	_ "github.com/kvlite/kvlite/internal/storage/dialect/postgres"
	_ "github.com/kvlite/kvlite/internal/storage/dialect/sqlite"
)

// Re-exported types so callers depend only on the root package.
type (
	// Settings is the validated, immutable cache configuration.
	Settings = settings.Settings
	// Option mutates a Settings under construction; see the With* functions
	// in internal/settings.
	Option = settings.Option
	// Dialect names a supported backend ("sqlite", "mysql", "postgres",
	// "mssql", "oracle").
	Dialect = settings.Dialect
	// Entry is the full decoded metadata for one cache row.
	Entry = engine.Entry
	// ClearMode selects which rows Clear removes.
	ClearMode = engine.ClearMode
	// Stats is the read-only row-count/size-bytes/insertions snapshot.
	Stats = engine.Stats
	// Cache is the engine handle returned by Open.
	Cache = engine.Engine
)

const (
	DialectSQLite   = settings.DialectSQLite
	DialectMySQL    = settings.DialectMySQL
	DialectPostgres = settings.DialectPostgres
	DialectMSSQL    = settings.DialectMSSQL
	DialectOracle   = settings.DialectOracle

	ClearAll         = engine.ClearAll
	ClearExpiredOnly = engine.ClearExpiredOnly
)

// Open validates s, opens a ConnectionFactory for s.Dialect/s.ConnectionString,
// ensures the schema exists, and returns a ready-to-use Cache. The returned
// Cache's insertion-counter auto-clean trigger runs a Maintenance sweep
// against whatever connection pool the Cache currently holds.
func Open(ctx context.Context, s *Settings) (*Cache, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	cf, err := storage.Open(ctx, string(s.Dialect), s.ConnectionString, s.SchemaName, s.EntriesTableName, storage.Options{
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxIdleTime: s.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	clk := clock.System{}
	pipe := pipeline.NewFromName(s.Serializer, s.CompressionThreshold)
	eng := engine.New(cf, clk, pipe, s, nil, nil)

	m, err := maintenance.New(eng, clk, nil, maintenance.WithRetryPolicy(s.RetryAttempts, s.RetryBaseDelay))
	if err != nil {
		_ = cf.Close()
		return nil, err
	}
	eng.SetAutoClean(m.Run)

	return eng, nil
}

// OpenFromViper is Open for file-backed configuration: it loads the
// initial Settings from v, opens a Cache, and keeps the Cache's
// configuration live by calling Reconfigure with every validated Settings
// the watcher produces. The subscription goroutine exits when ctx is
// cancelled, or at the first configuration change after the Cache is
// disposed.
func OpenFromViper(ctx context.Context, v *viper.Viper) (*Cache, error) {
	s, changes, err := settings.FromViper(v)
	if err != nil {
		return nil, err
	}
	c, err := Open(ctx, s)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case updated, ok := <-changes:
				if !ok {
					return
				}
				if err := c.Reconfigure(ctx, &updated); err != nil {
					if kverrors.Is(err, kverrors.Disposed) {
						return
					}
					slog.ErrorContext(ctx, "failed to apply updated cache configuration", "error", err)
				}
			}
		}
	}()

	return c, nil
}
