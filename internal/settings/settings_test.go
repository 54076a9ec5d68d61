package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/kverrors"
	"github.com/kvlite/kvlite/internal/settings"
)

func TestNewAppliesDefaults(t *testing.T) {
	s, err := settings.New(settings.DialectSQLite, "file:test.db")
	require.NoError(t, err)
	assert.Equal(t, "default", s.DefaultPartition)
	assert.Equal(t, 4096, s.CompressionThreshold)
	assert.Equal(t, "json", s.Serializer)
	assert.EqualValues(t, 30, s.StaticIntervalDays)
}

func TestStaticIntervalSeconds(t *testing.T) {
	s, err := settings.New(settings.DialectSQLite, "file:test.db", settings.WithStaticIntervalDays(2))
	require.NoError(t, err)
	assert.EqualValues(t, 2*24*60*60, s.StaticIntervalSeconds())
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		opts []settings.Option
	}{
		{"zero static interval", []settings.Option{settings.WithStaticIntervalDays(0)}},
		{"zero max cache size", []settings.Option{settings.WithMaxCacheSizeMB(0)}},
		{"zero auto clean threshold", []settings.Option{settings.WithInsertionsBeforeAutoClean(0)}},
		{"unknown serializer", []settings.Option{settings.WithSerializer("bson")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := settings.New(settings.DialectSQLite, "file:test.db", tt.opts...)
			require.Error(t, err)
			assert.True(t, kverrors.Is(err, kverrors.InvalidConfiguration))
		})
	}
}

func TestValidateRejectsEmptyConnectionString(t *testing.T) {
	_, err := settings.New(settings.DialectSQLite, "")
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.InvalidConfiguration))
}

func TestValidateRejectsUnknownDialect(t *testing.T) {
	_, err := settings.New(settings.Dialect("dbase3"), "file:test.db")
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.InvalidConfiguration))
}
