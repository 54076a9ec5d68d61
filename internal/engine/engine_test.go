package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/clock"
	"github.com/kvlite/kvlite/internal/engine"
	"github.com/kvlite/kvlite/internal/kverrors"
	"github.com/kvlite/kvlite/internal/pipeline"
	"github.com/kvlite/kvlite/internal/settings"
	"github.com/kvlite/kvlite/internal/storage"

	_ "github.com/kvlite/kvlite/internal/storage/dialect/sqlite"
)

func newTestEngine(t *testing.T, fc *clock.Fake) (*engine.Engine, *storage.ConnectionFactory) {
	t.Helper()
	ctx := context.Background()

	s, err := settings.New(settings.DialectSQLite, "file:"+t.TempDir()+"/kvlite.db",
		settings.WithStaticIntervalDays(1),
	)
	require.NoError(t, err)

	cf, err := storage.Open(ctx, "sqlite", s.ConnectionString, s.SchemaName, s.EntriesTableName, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cf.Close() })

	pipe := pipeline.New(pipeline.JSONSerializer{}, pipeline.FlateCompressor{}, s.CompressionThreshold)
	e := engine.New(cf, fc, pipe, s, nil, nil)
	return e, cf
}

// Scenario 1: timed hit then miss after expiry.
func TestTimedHitThenMiss(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(1000)
	e, _ := newTestEngine(t, fc)

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
}

// Scenario 2: sliding extension.
func TestSlidingExtension(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, _ := newTestEngine(t, fc)

	require.NoError(t, e.SetSliding(ctx, "p", "k", "v", 30))

	fc.Set(20)
	v, ok, err := e.Get(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	entry, ok, err := e.PeekEntry(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 50, entry.UTCExpiry)

	fc.Set(49)
	_, ok, err = e.Get(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)

	entry, ok, err = e.PeekEntry(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 79, entry.UTCExpiry)
}

// Scenario 3: overwrite preserves uniqueness.
func TestOverwritePreservesUniqueness(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, _ := newTestEngine(t, fc)

	require.NoError(t, e.SetTimed(ctx, "p", "k", "a", 1000))
	require.NoError(t, e.SetTimed(ctx, "p", "k", "b", 2000))

	count, err := e.Count(ctx, "p")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	v, ok, err := e.Get(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	entry, ok, err := e.PeekEntry(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2000, entry.UTCExpiry)
}

// Scenario 4: parent cascade.
func TestParentCascade(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, _ := newTestEngine(t, fc)

	require.NoError(t, e.SetStatic(ctx, "p", "parent", "root"))
	require.NoError(t, e.SetStatic(ctx, "p", "child", "leaf", "parent"))

	require.NoError(t, e.Remove(ctx, "p", "parent"))

	_, ok, err := e.Get(ctx, "p", "child")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := e.Count(ctx, "p")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

// Scenario 5: corrupt row self-heals.
func TestCorruptRowSelfHeals(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, cf := newTestEngine(t, fc)

	require.NoError(t, e.SetTimed(ctx, "p", "k", "hello", 1000))

	raw, ok, err := cf.PeekEntry(ctx, "p", "k", fc.UnixNow())
	require.NoError(t, err)
	require.True(t, ok)
	raw.Value = []byte{0xFF, 0x01, 0x02}
	raw.Compressed = false
	require.NoError(t, cf.UpsertEntry(ctx, raw))

	_, ok, err = e.Get(ctx, "p", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := e.Count(ctx, "p")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

// Scenario 6: auto-clean threshold.
func TestAutoCleanThreshold(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(1000)

	s, err := settings.New(settings.DialectSQLite, "file:"+t.TempDir()+"/kvlite.db",
		settings.WithInsertionsBeforeAutoClean(10),
	)
	require.NoError(t, err)

	cf, err := storage.Open(ctx, "sqlite", s.ConnectionString, s.SchemaName, s.EntriesTableName, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cf.Close() })

	pipe := pipeline.New(pipeline.JSONSerializer{}, pipeline.FlateCompressor{}, s.CompressionThreshold)

	swept := make(chan struct{}, 1)
	onAutoClean := func(ctx context.Context) {
		_, _ = cf.DeleteEntries(ctx, "", false, false, fc.UnixNow())
		swept <- struct{}{}
	}
	e := engine.New(cf, fc, pipe, s, onAutoClean, nil)

	for i := 0; i < 11; i++ {
		require.NoError(t, e.SetTimed(ctx, "p", "k"+string(rune('a'+i)), "v", 999))
	}
	<-swept

	count, err := e.Count(ctx, "p")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestEntriesByParentListsDependents(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, _ := newTestEngine(t, fc)

	require.NoError(t, e.SetStatic(ctx, "p", "parent", "root"))
	require.NoError(t, e.SetStatic(ctx, "p", "child-a", "a", "parent"))
	require.NoError(t, e.SetStatic(ctx, "p", "child-b", "b", "parent"))
	require.NoError(t, e.SetStatic(ctx, "p", "loner", "c"))

	entries, err := e.EntriesByParent(ctx, "p", "parent")
	require.NoError(t, err)

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Key)
	}
	assert.ElementsMatch(t, []string{"child-a", "child-b"}, keys)
}

func TestReconfigureSwapsBackend(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, _ := newTestEngine(t, fc)

	require.NoError(t, e.SetTimed(ctx, "p", "k", "before", 1000))

	s2, err := settings.New(settings.DialectSQLite, "file:"+t.TempDir()+"/kvlite2.db",
		settings.WithCompressionThreshold(64),
	)
	require.NoError(t, err)
	require.NoError(t, e.Reconfigure(ctx, s2))
	t.Cleanup(func() { _ = e.Dispose() })

	// The old backend's rows are not visible through the new pool.
	_, ok, err := e.Get(ctx, "p", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.SetTimed(ctx, "p", "k", "after", 1000))
	v, ok, err := e.Get(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "after", v)
}

func TestDisposedEngineFailsFast(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, _ := newTestEngine(t, fc)

	require.NoError(t, e.Dispose())
	require.NoError(t, e.Dispose()) // idempotent

	_, _, err := e.Get(ctx, "p", "k")
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.Disposed))
}

func TestParentMustExist(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, _ := newTestEngine(t, fc)

	err := e.SetStatic(ctx, "p", "child", "leaf", "does-not-exist")
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.InvalidArgument))
}

func TestSixthParentKeyRejected(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	e, _ := newTestEngine(t, fc)

	for _, p := range []string{"p0", "p1", "p2", "p3", "p4"} {
		require.NoError(t, e.SetStatic(ctx, "p", p, "v"))
	}
	err := e.SetStatic(ctx, "p", "child", "leaf", "p0", "p1", "p2", "p3", "p4", "p5")
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.InvalidArgument))
}
