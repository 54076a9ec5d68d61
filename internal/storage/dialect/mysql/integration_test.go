//go:build integration

package mysql_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/kvlite/kvlite/internal/clock"
	"github.com/kvlite/kvlite/internal/engine"
	"github.com/kvlite/kvlite/internal/pipeline"
	"github.com/kvlite/kvlite/internal/settings"
	"github.com/kvlite/kvlite/internal/storage"

	_ "github.com/kvlite/kvlite/internal/storage/dialect/mysql"
)

// TestEngineAgainstRealMySQL re-runs three of the core scenarios from
// internal/engine/engine_test.go (timed expiry, parent cascade, overwrite
// uniqueness) against an actual MySQL server, rather
// than SQLite, to exercise the ON DUPLICATE KEY UPDATE upsert and
// information_schema-driven schema check this dialect's Dialect.Open and
// SQLGenerator implementations are written against. Run with:
//
//	go test -tags=integration ./internal/storage/dialect/mysql/...
func TestEngineAgainstRealMySQL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("kvlite"),
		tcmysql.WithUsername("kvlite"),
		tcmysql.WithPassword("kvlite"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	s, err := settings.New(settings.DialectMySQL, dsn,
		settings.WithStaticIntervalDays(1),
	)
	require.NoError(t, err)

	cf, err := storage.Open(ctx, "mysql", s.ConnectionString, s.SchemaName, s.EntriesTableName, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cf.Close() })

	pipe := pipeline.New(pipeline.JSONSerializer{}, pipeline.FlateCompressor{}, s.CompressionThreshold)
	fc := clock.NewFake(1000)
	e := engine.New(cf, fc, pipe, s, nil, nil)

	// Timed hit then miss after expiry.
	require.NoError(t, e.SetTimed(ctx, "p", "k", "hello", 1060))
	fc.Set(1059)
	v, ok, err := e.Get(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	fc.Set(1060)
	_, ok, err = e.Get(ctx, "p", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Parent cascade, exercised against a real FK + ON DELETE CASCADE.
	fc.Set(2000)
	require.NoError(t, e.SetStatic(ctx, "p", "parent", "root"))
	require.NoError(t, e.SetStatic(ctx, "p", "child", "leaf", "parent"))
	require.NoError(t, e.Remove(ctx, "p", "parent"))
	_, ok, err = e.Get(ctx, "p", "child")
	require.NoError(t, err)
	assert.False(t, ok)

	// Overwrite preserves (partition, key) uniqueness via ON DUPLICATE KEY UPDATE.
	require.NoError(t, e.SetTimed(ctx, "q", "k", "a", 3000))
	require.NoError(t, e.SetTimed(ctx, "q", "k", "b", 4000))
	count, err := e.Count(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	v, ok, err = e.Get(ctx, "q", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}
