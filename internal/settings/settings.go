// Package settings holds validated, immutable cache configuration and an
// optional viper-backed observer that produces a fresh, re-validated
// Settings value whenever the backing file changes.
package settings

import (
	"fmt"
	"time"

	"github.com/kvlite/kvlite/internal/kverrors"
)

// Dialect names a supported backend. The connection factory package owns
// the actual driver wiring; Settings only needs the name to select one.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectMSSQL    Dialect = "mssql"
	DialectOracle   Dialect = "oracle"
)

// Settings is the immutable, validated configuration for one Engine
// instance. Construct with New; a change to any field requires building a
// new Settings (and, inside the engine, swapping the connection factory —
// see FromViper for the live-reload path).
type Settings struct {
	Dialect          Dialect
	ConnectionString string
	SchemaName       string
	EntriesTableName string

	DefaultPartition          string
	MaxPartitionLength        int
	MaxKeyLength              int
	StaticIntervalDays        int
	InsertionsBeforeAutoClean int
	MaxCacheSizeMB            int
	CompressionThreshold      int
	Serializer                string // "json" (default) or "fastjson"

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Option mutates a Settings under construction.
type Option func(*Settings)

func defaults() Settings {
	return Settings{
		Dialect:                   DialectSQLite,
		SchemaName:                "",
		EntriesTableName:          "kvl_entries",
		DefaultPartition:          "default",
		MaxPartitionLength:        255,
		MaxKeyLength:              255,
		StaticIntervalDays:        30,
		InsertionsBeforeAutoClean: 1024,
		MaxCacheSizeMB:            512,
		CompressionThreshold:      4096,
		Serializer:                "json",
		MaxOpenConns:              16,
		MaxIdleConns:              4,
		ConnMaxIdleTime:           5 * time.Minute,
		RetryAttempts:             3,
		RetryBaseDelay:            100 * time.Millisecond,
	}
}

// New builds a validated Settings. connectionString and dialect are
// required; everything else falls back to documented defaults.
func New(dialect Dialect, connectionString string, opts ...Option) (*Settings, error) {
	s := defaults()
	s.Dialect = dialect
	s.ConnectionString = connectionString
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func WithDefaultPartition(p string) Option { return func(s *Settings) { s.DefaultPartition = p } }
func WithSchemaName(n string) Option       { return func(s *Settings) { s.SchemaName = n } }
func WithEntriesTableName(n string) Option { return func(s *Settings) { s.EntriesTableName = n } }
func WithStaticIntervalDays(d int) Option  { return func(s *Settings) { s.StaticIntervalDays = d } }
func WithInsertionsBeforeAutoClean(n int) Option {
	return func(s *Settings) { s.InsertionsBeforeAutoClean = n }
}
func WithMaxCacheSizeMB(mb int) Option { return func(s *Settings) { s.MaxCacheSizeMB = mb } }
func WithCompressionThreshold(n int) Option {
	return func(s *Settings) { s.CompressionThreshold = n }
}
func WithSerializer(name string) Option { return func(s *Settings) { s.Serializer = name } }
func WithMaxPartitionLength(n int) Option {
	return func(s *Settings) { s.MaxPartitionLength = n }
}
func WithMaxKeyLength(n int) Option { return func(s *Settings) { s.MaxKeyLength = n } }
func WithPoolLimits(maxOpen, maxIdle int, maxIdleTime time.Duration) Option {
	return func(s *Settings) {
		s.MaxOpenConns = maxOpen
		s.MaxIdleConns = maxIdle
		s.ConnMaxIdleTime = maxIdleTime
	}
}
func WithRetryPolicy(attempts int, baseDelay time.Duration) Option {
	return func(s *Settings) {
		s.RetryAttempts = attempts
		s.RetryBaseDelay = baseDelay
	}
}

// Validate checks every field's range. Every failure is reported as
// kverrors.InvalidConfiguration.
func (s *Settings) Validate() error {
	const op = "settings.Validate"
	switch {
	case s.DefaultPartition == "":
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("default_partition must be non-empty"))
	case s.StaticIntervalDays <= 0:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("static_interval_days must be > 0, got %d", s.StaticIntervalDays))
	case s.MaxCacheSizeMB <= 0:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("max_cache_size_mb must be > 0, got %d", s.MaxCacheSizeMB))
	case s.InsertionsBeforeAutoClean <= 0:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("insertions_before_auto_clean must be > 0, got %d", s.InsertionsBeforeAutoClean))
	case s.MaxPartitionLength <= 0:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("max_partition_length must be > 0"))
	case s.MaxKeyLength <= 0:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("max_key_length must be > 0"))
	case s.CompressionThreshold < 0:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("compression_threshold must be >= 0"))
	case s.ConnectionString == "":
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("connection_string must be non-empty"))
	case s.Serializer != "json" && s.Serializer != "fastjson":
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("serializer must be %q or %q, got %q", "json", "fastjson", s.Serializer))
	case s.MaxOpenConns <= 0:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("max_open_conns must be > 0"))
	case s.RetryAttempts < 0:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("retry_attempts must be >= 0"))
	}
	switch s.Dialect {
	case DialectSQLite, DialectMySQL, DialectPostgres, DialectMSSQL, DialectOracle:
	default:
		return kverrors.New(kverrors.InvalidConfiguration, op, fmt.Errorf("unknown dialect %q", s.Dialect))
	}
	return nil
}

// StaticIntervalSeconds returns StaticIntervalDays in seconds, the unit
// every persisted expiry column uses.
func (s *Settings) StaticIntervalSeconds() int64 {
	return int64(s.StaticIntervalDays) * 24 * 60 * 60
}
