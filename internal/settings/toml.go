package settings

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk shape of a settings file. Pointer fields
// distinguish "absent, use the default" from an explicit zero.
type fileConfig struct {
	Dialect          string  `toml:"dialect"`
	ConnectionString string  `toml:"connection_string"`
	SchemaName       *string `toml:"schema_name"`
	EntriesTableName *string `toml:"entries_table_name"`

	DefaultPartition          *string `toml:"default_partition"`
	StaticIntervalDays        *int    `toml:"static_interval_days"`
	InsertionsBeforeAutoClean *int    `toml:"insertions_before_auto_clean"`
	MaxCacheSizeMB            *int    `toml:"max_cache_size_mb"`
	CompressionThreshold      *int    `toml:"compression_threshold"`
	Serializer                *string `toml:"serializer"`

	MaxOpenConns    *int    `toml:"max_open_conns"`
	MaxIdleConns    *int    `toml:"max_idle_conns"`
	ConnMaxIdleTime *string `toml:"conn_max_idle_time"`

	RetryAttempts  *int    `toml:"retry_attempts"`
	RetryBaseDelay *string `toml:"retry_base_delay"`
}

// FromTOMLFile loads a validated Settings from one TOML file, without the
// watch/reload machinery FromViper carries. This is the lighter path for
// callers that read configuration once at startup.
func FromTOMLFile(path string) (*Settings, error) {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("settings.FromTOMLFile: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("settings.FromTOMLFile: unknown key %q in %s", undecoded[0].String(), path)
	}
	return fc.toSettings()
}

func (fc *fileConfig) toSettings() (*Settings, error) {
	var opts []Option
	if fc.SchemaName != nil {
		opts = append(opts, WithSchemaName(*fc.SchemaName))
	}
	if fc.EntriesTableName != nil {
		opts = append(opts, WithEntriesTableName(*fc.EntriesTableName))
	}
	if fc.DefaultPartition != nil {
		opts = append(opts, WithDefaultPartition(*fc.DefaultPartition))
	}
	if fc.StaticIntervalDays != nil {
		opts = append(opts, WithStaticIntervalDays(*fc.StaticIntervalDays))
	}
	if fc.InsertionsBeforeAutoClean != nil {
		opts = append(opts, WithInsertionsBeforeAutoClean(*fc.InsertionsBeforeAutoClean))
	}
	if fc.MaxCacheSizeMB != nil {
		opts = append(opts, WithMaxCacheSizeMB(*fc.MaxCacheSizeMB))
	}
	if fc.CompressionThreshold != nil {
		opts = append(opts, WithCompressionThreshold(*fc.CompressionThreshold))
	}
	if fc.Serializer != nil {
		opts = append(opts, WithSerializer(*fc.Serializer))
	}
	if fc.MaxOpenConns != nil || fc.MaxIdleConns != nil || fc.ConnMaxIdleTime != nil {
		base := defaults()
		maxOpen, maxIdle, idleTime := base.MaxOpenConns, base.MaxIdleConns, base.ConnMaxIdleTime
		if fc.MaxOpenConns != nil {
			maxOpen = *fc.MaxOpenConns
		}
		if fc.MaxIdleConns != nil {
			maxIdle = *fc.MaxIdleConns
		}
		if fc.ConnMaxIdleTime != nil {
			d, err := time.ParseDuration(*fc.ConnMaxIdleTime)
			if err != nil {
				return nil, fmt.Errorf("settings: conn_max_idle_time: %w", err)
			}
			idleTime = d
		}
		opts = append(opts, WithPoolLimits(maxOpen, maxIdle, idleTime))
	}
	if fc.RetryAttempts != nil || fc.RetryBaseDelay != nil {
		base := defaults()
		attempts, delay := base.RetryAttempts, base.RetryBaseDelay
		if fc.RetryAttempts != nil {
			attempts = *fc.RetryAttempts
		}
		if fc.RetryBaseDelay != nil {
			d, err := time.ParseDuration(*fc.RetryBaseDelay)
			if err != nil {
				return nil, fmt.Errorf("settings: retry_base_delay: %w", err)
			}
			delay = d
		}
		opts = append(opts, WithRetryPolicy(attempts, delay))
	}
	return New(Dialect(fc.Dialect), fc.ConnectionString, opts...)
}
