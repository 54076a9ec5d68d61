package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/kverrors"
	"github.com/kvlite/kvlite/internal/storage"

	_ "github.com/kvlite/kvlite/internal/storage/dialect/sqlite"
)

func newTestFactory(t *testing.T) *storage.ConnectionFactory {
	t.Helper()
	cf, err := storage.Open(context.Background(), "sqlite", "file:"+t.TempDir()+"/kvlite.db", "", "kv_entries", storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cf.Close() })
	return cf
}

func TestUpsertEntryThenPeekRoundTrips(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)

	e := &storage.CacheEntry{ID: "id-1", Partition: "p", Key: "k", UTCExpiry: 100, Value: []byte("hello"), UTCCreation: 1}
	require.NoError(t, cf.UpsertEntry(ctx, e))

	got, ok, err := cf.PeekEntry(ctx, "p", "k", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Value)
	assert.EqualValues(t, 100, got.UTCExpiry)
}

func TestUpsertEntrySameKeyOverwrites(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)

	first := &storage.CacheEntry{ID: "id-1", Partition: "p", Key: "k", UTCExpiry: 100, Value: []byte("a"), UTCCreation: 1}
	second := &storage.CacheEntry{ID: "id-2", Partition: "p", Key: "k", UTCExpiry: 200, Value: []byte("b"), UTCCreation: 2}
	require.NoError(t, cf.UpsertEntry(ctx, first))
	require.NoError(t, cf.UpsertEntry(ctx, second))

	n, err := cf.CountEntries(ctx, "p", true, true, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, ok, err := cf.PeekEntry(ctx, "p", "k", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), got.Value)
	assert.EqualValues(t, 200, got.UTCExpiry)
}

func TestUpsertEntryRejectsMissingParent(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)

	child := &storage.CacheEntry{ID: "id-1", Partition: "p", Key: "child", UTCExpiry: 100, Value: []byte("v"), UTCCreation: 1}
	require.NoError(t, child.SetParentKeys([]string{"missing"}))

	err := cf.UpsertEntry(ctx, child)
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.InvalidArgument))
}

func TestDeleteEntryCascadesToChild(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)

	parent := &storage.CacheEntry{ID: "parent", Partition: "p", Key: "parent", UTCExpiry: 100, Value: []byte("root"), UTCCreation: 1}
	require.NoError(t, cf.UpsertEntry(ctx, parent))

	child := &storage.CacheEntry{ID: "child", Partition: "p", Key: "child", UTCExpiry: 100, Value: []byte("leaf"), UTCCreation: 1}
	require.NoError(t, child.SetParentKeys([]string{"parent"}))
	require.NoError(t, cf.UpsertEntry(ctx, child))

	require.NoError(t, cf.DeleteEntry(ctx, "p", "parent"))

	_, ok, err := cf.PeekEntry(ctx, "p", "child", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPartitionsReturnsDistinctNames(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)

	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "1", Partition: "a", Key: "k1", UTCExpiry: 100, Value: []byte("v"), UTCCreation: 1}))
	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "2", Partition: "b", Key: "k2", UTCExpiry: 100, Value: []byte("v"), UTCCreation: 1}))
	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "3", Partition: "a", Key: "k3", UTCExpiry: 100, Value: []byte("v"), UTCCreation: 1}))

	parts, err := cf.ListPartitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, parts)
}

func TestEnsureSchemaRejectsIncompatibleExistingTable(t *testing.T) {
	ctx := context.Background()
	cf, err := storage.Open(ctx, "sqlite", "file:"+t.TempDir()+"/kvlite.db", "", "kv_entries", storage.Options{})
	require.NoError(t, err)
	defer cf.Close()

	_, err = cf.DB().ExecContext(ctx, "DROP TABLE kv_entries")
	require.NoError(t, err)
	_, err = cf.DB().ExecContext(ctx, "CREATE TABLE kv_entries (kvle_id TEXT)")
	require.NoError(t, err)

	err = storage.EnsureSchema(ctx, cf)
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.SchemaIncompatible))
}
