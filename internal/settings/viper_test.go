package settings_test

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/settings"
)

func newViperFromTOML(t *testing.T, toml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(toml)))
	return v
}

func TestFromViperLoadsInitialSettings(t *testing.T) {
	v := newViperFromTOML(t, `
dialect = "sqlite"
connection_string = "file:test.db"
default_partition = "tenant-a"
static_interval_days = 7
`)

	s, changes, err := settings.FromViper(v)
	require.NoError(t, err)
	assert.NotNil(t, changes)
	assert.Equal(t, settings.DialectSQLite, s.Dialect)
	assert.Equal(t, "tenant-a", s.DefaultPartition)
	assert.EqualValues(t, 7, s.StaticIntervalDays)
}

func TestFromViperRejectsInvalidConfig(t *testing.T) {
	v := newViperFromTOML(t, `
dialect = "sqlite"
connection_string = "file:test.db"
max_cache_size_mb = 0
`)

	_, _, err := settings.FromViper(v)
	require.Error(t, err)
}
