package settings

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FromViper loads a Settings from an already-configured viper.Viper (TOML,
// YAML, or JSON — viper auto-detects from the config file extension) and
// returns a channel that receives a freshly validated Settings every time
// the backing file changes on disk. Rather than change notifications on
// individual fields, the whole Settings is treated as one immutable value
// and replaced wholesale; the engine's Reconfigure consumes it as such.
//
// The returned channel is never closed, so it lives for the process
// lifetime; callers that build an Engine around it should drain it in a
// goroutine for as long as the Engine is alive.
func FromViper(v *viper.Viper) (*Settings, <-chan Settings, error) {
	initial, err := settingsFromViper(v)
	if err != nil {
		return nil, nil, err
	}

	changes := make(chan Settings, 1)
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		if updated, err := settingsFromViper(v); err == nil {
			select {
			case changes <- *updated:
			default:
				// Drop the stale pending value and push the latest; a
				// reader that is behind only cares about the newest
				// configuration, not every intermediate edit.
				select {
				case <-changes:
				default:
				}
				changes <- *updated
			}
		}
	})

	return initial, changes, nil
}

func settingsFromViper(v *viper.Viper) (*Settings, error) {
	dialect := Dialect(v.GetString("dialect"))
	connStr := v.GetString("connection_string")

	var opts []Option
	if p := v.GetString("default_partition"); p != "" {
		opts = append(opts, WithDefaultPartition(p))
	}
	if v.IsSet("schema_name") {
		opts = append(opts, WithSchemaName(v.GetString("schema_name")))
	}
	if v.IsSet("entries_table_name") {
		opts = append(opts, WithEntriesTableName(v.GetString("entries_table_name")))
	}
	if v.IsSet("static_interval_days") {
		opts = append(opts, WithStaticIntervalDays(v.GetInt("static_interval_days")))
	}
	if v.IsSet("insertions_before_auto_clean") {
		opts = append(opts, WithInsertionsBeforeAutoClean(v.GetInt("insertions_before_auto_clean")))
	}
	if v.IsSet("max_cache_size_mb") {
		opts = append(opts, WithMaxCacheSizeMB(v.GetInt("max_cache_size_mb")))
	}
	if v.IsSet("compression_threshold") {
		opts = append(opts, WithCompressionThreshold(v.GetInt("compression_threshold")))
	}
	if v.IsSet("serializer") {
		opts = append(opts, WithSerializer(v.GetString("serializer")))
	}
	if v.IsSet("max_open_conns") || v.IsSet("max_idle_conns") || v.IsSet("conn_max_idle_time") {
		idleTime := v.GetDuration("conn_max_idle_time")
		if idleTime == 0 {
			idleTime = 5 * time.Minute
		}
		opts = append(opts, WithPoolLimits(v.GetInt("max_open_conns"), v.GetInt("max_idle_conns"), idleTime))
	}
	if v.IsSet("retry_attempts") || v.IsSet("retry_base_delay") {
		delay := v.GetDuration("retry_base_delay")
		if delay == 0 {
			delay = 100 * time.Millisecond
		}
		opts = append(opts, WithRetryPolicy(v.GetInt("retry_attempts"), delay))
	}

	s, err := New(dialect, connStr, opts...)
	if err != nil {
		return nil, fmt.Errorf("settings.FromViper: %w", err)
	}
	return s, nil
}
