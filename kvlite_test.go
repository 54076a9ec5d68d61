package kvlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite"
	"github.com/kvlite/kvlite/internal/settings"
)

func TestOpenRoundTrip(t *testing.T) {
	ctx := context.Background()

	s, err := settings.New(kvlite.DialectSQLite, "file:"+t.TempDir()+"/kvlite.db")
	require.NoError(t, err)

	c, err := kvlite.Open(ctx, s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Dispose() })

	require.NoError(t, c.SetSliding(ctx, "", "greeting", "hello", 300))

	v, ok, err := c.Get(ctx, "", "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	// The empty partition resolved to the default one.
	n, err := c.Count(ctx, s.DefaultPartition)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	s, err := settings.New(kvlite.DialectSQLite, "file:unused.db")
	require.NoError(t, err)
	s.Dialect = kvlite.Dialect("sybase")

	_, err = kvlite.Open(context.Background(), s)
	require.Error(t, err)
}
