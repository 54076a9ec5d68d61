// Package engine implements the Cache Engine: the public operation set
// (set/get/peek/remove/clear/stats) that binds the Value Pipeline, the
// Connection Factory, the Clock, and Settings into one coherent API.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kvlite/kvlite/internal/clock"
	"github.com/kvlite/kvlite/internal/kverrors"
	"github.com/kvlite/kvlite/internal/pipeline"
	"github.com/kvlite/kvlite/internal/settings"
	"github.com/kvlite/kvlite/internal/storage"
)

// ClearMode selects which rows Clear removes.
type ClearMode int

const (
	// ClearExpiredOnly removes only rows with utc_expiry < now (a manual sweep).
	ClearExpiredOnly ClearMode = iota
	// ClearAll removes every row in scope, expired or not.
	ClearAll
)

// Stats is the read-only snapshot returned by Engine.Stats.
type Stats struct {
	RowCount   int64
	SizeBytes  int64
	Insertions int64
}

// Entry is the public, decoded view of a CacheEntry: Value is the decoded
// payload, not the raw pipeline bytes.
type Entry struct {
	Partition   string
	Key         string
	Value       any
	UTCExpiry   int64
	Interval    int64
	UTCCreation int64
	ParentKeys  []string
}

// SweepFunc triggers an out-of-band maintenance sweep. The engine calls
// this asynchronously once the insertion counter crosses
// Settings.InsertionsBeforeAutoClean; internal/maintenance.Maintenance.Run
// is the production implementation, wired in by the host process to avoid
// an import cycle between engine and maintenance.
type SweepFunc func(ctx context.Context)

// Engine is the partitioned cache engine. The connection factory, value
// pipeline, and settings live behind atomic pointers so Reconfigure can
// swap all three wholesale while concurrent readers keep using the
// snapshot they loaded at the top of their call.
type Engine struct {
	cf       atomic.Pointer[storage.ConnectionFactory]
	pipe     atomic.Pointer[pipeline.Pipeline]
	settings atomic.Pointer[settings.Settings]

	clock clock.Clock
	log   *slog.Logger

	onAutoClean SweepFunc

	insertions atomic.Int64
	disposed   atomic.Bool
}

// New builds an Engine over an already-opened ConnectionFactory. log may be
// nil, in which case slog.Default() is used.
func New(cf *storage.ConnectionFactory, clk clock.Clock, pipe *pipeline.Pipeline, s *settings.Settings, onAutoClean SweepFunc, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{clock: clk, onAutoClean: onAutoClean, log: log}
	e.cf.Store(cf)
	e.pipe.Store(pipe)
	e.settings.Store(s)
	return e
}

// SetAutoClean installs the sweep trigger after construction. This exists
// because the production sweep (internal/maintenance) is itself built
// around the engine's current connection factory, so the two are wired
// engine-first.
func (e *Engine) SetAutoClean(fn SweepFunc) { e.onAutoClean = fn }

// ConnectionFactory returns the engine's current connection factory. It is
// how the maintenance loop always sweeps against the live pool, including
// after a Reconfigure has swapped pools underneath it.
func (e *Engine) ConnectionFactory() *storage.ConnectionFactory { return e.cf.Load() }

// Reconfigure validates s, opens a fresh ConnectionFactory for it, swaps
// the factory, value pipeline, and settings in atomically, and closes the
// old pool. In-flight operations keep the snapshot they started with;
// every subsequent call sees the new configuration.
func (e *Engine) Reconfigure(ctx context.Context, s *settings.Settings) error {
	const op = "engine.Reconfigure"
	if err := e.checkDisposed(op); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}

	cf, err := storage.Open(ctx, string(s.Dialect), s.ConnectionString, s.SchemaName, s.EntriesTableName, storage.Options{
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxIdleTime: s.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}

	e.pipe.Store(pipeline.NewFromName(s.Serializer, s.CompressionThreshold))
	e.settings.Store(s)
	old := e.cf.Swap(cf)
	if old != nil {
		if err := old.Close(); err != nil {
			e.log.WarnContext(ctx, "failed to close previous connection pool", "error", err)
		}
	}
	e.log.InfoContext(ctx, "engine reconfigured", "dialect", s.Dialect, "table", s.EntriesTableName)
	return nil
}

// Dispose idempotently closes the underlying connection pool. Every other
// public method fails with kverrors.Disposed once this has run.
func (e *Engine) Dispose() error {
	if !e.disposed.CompareAndSwap(false, true) {
		return nil
	}
	return e.cf.Load().Close()
}

func (e *Engine) checkDisposed(op string) error {
	if e.disposed.Load() {
		return kverrors.New(kverrors.Disposed, op, fmt.Errorf("engine is disposed"))
	}
	return nil
}

func (e *Engine) resolvePartition(s *settings.Settings, partition string) string {
	if partition == "" {
		return s.DefaultPartition
	}
	return partition
}

func (e *Engine) validateKeys(s *settings.Settings, op, partition, key string, parentKeys []string) error {
	if partition == "" || len(partition) > s.MaxPartitionLength {
		return kverrors.New(kverrors.InvalidArgument, op, fmt.Errorf("partition must be 1..%d characters", s.MaxPartitionLength))
	}
	if key == "" || len(key) > s.MaxKeyLength {
		return kverrors.New(kverrors.InvalidArgument, op, fmt.Errorf("key must be 1..%d characters", s.MaxKeyLength))
	}
	if len(parentKeys) > storage.MaxParentKeys {
		return kverrors.New(kverrors.InvalidArgument, op, fmt.Errorf("at most %d parent keys allowed, got %d", storage.MaxParentKeys, len(parentKeys)))
	}
	return nil
}

// SetTimed inserts or replaces (partition, key) with a fixed expiry and no
// sliding extension.
func (e *Engine) SetTimed(ctx context.Context, partition, key string, value any, utcExpiry int64, parentKeys ...string) error {
	return e.set(ctx, "engine.SetTimed", partition, key, value, utcExpiry, 0, parentKeys)
}

// SetSliding inserts or replaces (partition, key) with utc_expiry = now +
// interval; every successful get extends it again by the same amount.
func (e *Engine) SetSliding(ctx context.Context, partition, key string, value any, interval int64, parentKeys ...string) error {
	const op = "engine.SetSliding"
	if interval < 0 {
		return kverrors.New(kverrors.InvalidArgument, op, fmt.Errorf("interval must be >= 0, got %d", interval))
	}
	now := e.clock.UnixNow()
	return e.set(ctx, op, partition, key, value, now+interval, interval, parentKeys)
}

// SetStatic is SetSliding with interval fixed to Settings.StaticIntervalDays.
func (e *Engine) SetStatic(ctx context.Context, partition, key string, value any, parentKeys ...string) error {
	return e.SetSliding(ctx, partition, key, value, e.settings.Load().StaticIntervalSeconds(), parentKeys...)
}

func (e *Engine) set(ctx context.Context, op, partition, key string, value any, utcExpiry, interval int64, parentKeys []string) error {
	if err := e.checkDisposed(op); err != nil {
		return err
	}
	s := e.settings.Load()
	cf := e.cf.Load()
	partition = e.resolvePartition(s, partition)
	if err := e.validateKeys(s, op, partition, key, parentKeys); err != nil {
		return err
	}

	encoded, compressed, err := e.pipe.Load().Encode(value)
	if err != nil {
		return err
	}

	if err := e.checkParents(ctx, cf, op, partition, parentKeys); err != nil {
		return err
	}

	entry := &storage.CacheEntry{
		ID:          uuid.NewString(),
		Partition:   partition,
		Key:         key,
		UTCExpiry:   utcExpiry,
		Interval:    interval,
		Value:       encoded,
		Compressed:  compressed,
		UTCCreation: e.clock.UnixNow(),
	}
	if err := entry.SetParentKeys(parentKeys); err != nil {
		return err
	}

	if err := cf.UpsertEntry(ctx, entry); err != nil {
		return err
	}

	e.afterInsert(ctx, s)
	return nil
}

// checkParents pre-validates that every non-empty parent key already
// exists in partition, so a caller gets InvalidArgument deterministically
// instead of racing a backend FK violation that only fires at commit on
// some dialects.
func (e *Engine) checkParents(ctx context.Context, cf *storage.ConnectionFactory, op, partition string, parentKeys []string) error {
	for _, p := range parentKeys {
		if p == "" {
			continue
		}
		ok, err := cf.ContainsEntry(ctx, partition, p, e.clock.UnixNow())
		if err != nil {
			return err
		}
		if !ok {
			return kverrors.New(kverrors.InvalidArgument, op, fmt.Errorf("parent key %q does not exist in partition %q", p, partition))
		}
	}
	return nil
}

// afterInsert bumps the insertion counter and fires the auto-clean sweep
// when it crosses the configured threshold. The counter is a hint: a
// concurrent crossing may fire two sweeps, and both are harmless.
func (e *Engine) afterInsert(ctx context.Context, s *settings.Settings) {
	n := e.insertions.Add(1)
	if int(n) < s.InsertionsBeforeAutoClean {
		return
	}
	e.insertions.Store(0)
	if e.onAutoClean != nil {
		go e.onAutoClean(ctx)
	}
}

// Get returns the decoded value for (partition, key), extending utc_expiry
// when the entry is sliding. The bool return spells absence; a missing or
// expired entry is never an error.
func (e *Engine) Get(ctx context.Context, partition, key string) (any, bool, error) {
	entry, ok, err := e.GetEntry(ctx, partition, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return entry.Value, true, nil
}

// GetEntry is Get but returns the full decoded Entry.
func (e *Engine) GetEntry(ctx context.Context, partition, key string) (*Entry, bool, error) {
	const op = "engine.GetEntry"
	if err := e.checkDisposed(op); err != nil {
		return nil, false, err
	}
	s := e.settings.Load()
	cf := e.cf.Load()
	partition = e.resolvePartition(s, partition)
	if err := e.validateKeys(s, op, partition, key, nil); err != nil {
		return nil, false, err
	}

	now := e.clock.UnixNow()
	raw, found, err := cf.PeekEntry(ctx, partition, key, now)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	// The read and the sliding extension are two separate statements on
	// purpose: a concurrent remove between them just makes the UPDATE
	// affect zero rows.
	if raw.Interval > 0 {
		newExpiry := now + raw.Interval
		if err := cf.UpdateEntryExpiry(ctx, partition, key, newExpiry); err != nil {
			return nil, false, err
		}
		raw.UTCExpiry = newExpiry
	}

	return e.decodeOrHeal(ctx, cf, op, raw)
}

// Peek is Get without the sliding side-effect.
func (e *Engine) Peek(ctx context.Context, partition, key string) (any, bool, error) {
	entry, ok, err := e.PeekEntry(ctx, partition, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return entry.Value, true, nil
}

// PeekEntry is GetEntry without the sliding side-effect.
func (e *Engine) PeekEntry(ctx context.Context, partition, key string) (*Entry, bool, error) {
	const op = "engine.PeekEntry"
	if err := e.checkDisposed(op); err != nil {
		return nil, false, err
	}
	s := e.settings.Load()
	cf := e.cf.Load()
	partition = e.resolvePartition(s, partition)
	if err := e.validateKeys(s, op, partition, key, nil); err != nil {
		return nil, false, err
	}

	raw, found, err := cf.PeekEntry(ctx, partition, key, e.clock.UnixNow())
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return e.decodeOrHeal(ctx, cf, op, raw)
}

// decodeOrHeal decodes raw.Value; a decode failure deletes the row and
// reports absence rather than an error, so one schema-incompatible upgrade
// cannot permanently poison a key.
func (e *Engine) decodeOrHeal(ctx context.Context, cf *storage.ConnectionFactory, op string, raw *storage.CacheEntry) (*Entry, bool, error) {
	value, err := e.pipe.Load().DecodeAny(raw.Value, raw.Compressed)
	if err != nil {
		e.log.WarnContext(ctx, "corrupt cache row, deleting and reporting absence",
			"op", op, "partition", raw.Partition, "key", raw.Key, "error", err)
		if delErr := cf.DeleteEntry(ctx, raw.Partition, raw.Key); delErr != nil {
			e.log.ErrorContext(ctx, "failed to delete corrupt row", "error", delErr)
		}
		return nil, false, nil
	}
	return &Entry{
		Partition:   raw.Partition,
		Key:         raw.Key,
		Value:       value,
		UTCExpiry:   raw.UTCExpiry,
		Interval:    raw.Interval,
		UTCCreation: raw.UTCCreation,
		ParentKeys:  raw.ParentKeyList(),
	}, true, nil
}

// GetEntries scans every live entry in partition (or every partition when
// partition is ""), applying the sliding side-effect to each sliding row.
func (e *Engine) GetEntries(ctx context.Context, partition string) ([]*Entry, error) {
	const op = "engine.GetEntries"
	cf := e.cf.Load()
	entries, err := e.peekEntries(ctx, cf, op, partition)
	if err != nil {
		return nil, err
	}
	now := e.clock.UnixNow()
	out := make([]*Entry, 0, len(entries))
	for _, raw := range entries {
		if raw.Interval > 0 {
			newExpiry := now + raw.Interval
			if err := cf.UpdateEntryExpiry(ctx, raw.Partition, raw.Key, newExpiry); err != nil {
				return nil, err
			}
			raw.UTCExpiry = newExpiry
		}
		decoded, ok, err := e.decodeOrHeal(ctx, cf, op, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, decoded)
		}
	}
	return out, nil
}

// PeekEntries is GetEntries without the sliding side-effect.
func (e *Engine) PeekEntries(ctx context.Context, partition string) ([]*Entry, error) {
	const op = "engine.PeekEntries"
	cf := e.cf.Load()
	entries, err := e.peekEntries(ctx, cf, op, partition)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(entries))
	for _, raw := range entries {
		decoded, ok, err := e.decodeOrHeal(ctx, cf, op, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, decoded)
		}
	}
	return out, nil
}

func (e *Engine) peekEntries(ctx context.Context, cf *storage.ConnectionFactory, op, partition string) ([]*storage.CacheEntry, error) {
	if err := e.checkDisposed(op); err != nil {
		return nil, err
	}
	partitionScoped := partition != ""
	if partitionScoped {
		partition = e.resolvePartition(e.settings.Load(), partition)
	}
	return cf.PeekEntries(ctx, partition, partitionScoped, e.clock.UnixNow())
}

// EntriesByParent returns the live entries in partition that name parentKey
// in any of their parent slots. Peek semantics: no sliding extension.
func (e *Engine) EntriesByParent(ctx context.Context, partition, parentKey string) ([]*Entry, error) {
	const op = "engine.EntriesByParent"
	if err := e.checkDisposed(op); err != nil {
		return nil, err
	}
	s := e.settings.Load()
	cf := e.cf.Load()
	partition = e.resolvePartition(s, partition)
	if err := e.validateKeys(s, op, partition, parentKey, nil); err != nil {
		return nil, err
	}

	entries, err := cf.PeekEntriesByParent(ctx, partition, parentKey, e.clock.UnixNow())
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(entries))
	for _, raw := range entries {
		decoded, ok, err := e.decodeOrHeal(ctx, cf, op, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, decoded)
		}
	}
	return out, nil
}

// Contains reports existence-and-not-expired for (partition, key).
func (e *Engine) Contains(ctx context.Context, partition, key string) (bool, error) {
	const op = "engine.Contains"
	if err := e.checkDisposed(op); err != nil {
		return false, err
	}
	s := e.settings.Load()
	partition = e.resolvePartition(s, partition)
	if err := e.validateKeys(s, op, partition, key, nil); err != nil {
		return false, err
	}
	return e.cf.Load().ContainsEntry(ctx, partition, key, e.clock.UnixNow())
}

// Count returns the live row count, scoped to partition when non-empty.
func (e *Engine) Count(ctx context.Context, partition string) (int64, error) {
	const op = "engine.Count"
	if err := e.checkDisposed(op); err != nil {
		return 0, err
	}
	partitionScoped := partition != ""
	if partitionScoped {
		partition = e.resolvePartition(e.settings.Load(), partition)
	}
	return e.cf.Load().CountEntries(ctx, partition, partitionScoped, false, e.clock.UnixNow())
}

// Remove deletes (partition, key), cascading to any dependent children via
// the schema's ON DELETE CASCADE.
func (e *Engine) Remove(ctx context.Context, partition, key string) error {
	const op = "engine.Remove"
	if err := e.checkDisposed(op); err != nil {
		return err
	}
	s := e.settings.Load()
	partition = e.resolvePartition(s, partition)
	if err := e.validateKeys(s, op, partition, key, nil); err != nil {
		return err
	}
	return e.cf.Load().DeleteEntry(ctx, partition, key)
}

// Clear removes rows in scope per mode: ClearAll removes everything in
// partition (or everywhere, when partition is ""); ClearExpiredOnly
// removes only already-expired rows, the same statement the maintenance
// sweep issues.
func (e *Engine) Clear(ctx context.Context, partition string, mode ClearMode) (int64, error) {
	const op = "engine.Clear"
	if err := e.checkDisposed(op); err != nil {
		return 0, err
	}
	partitionScoped := partition != ""
	if partitionScoped {
		partition = e.resolvePartition(e.settings.Load(), partition)
	}
	ignoreExpiry := mode == ClearAll
	return e.cf.Load().DeleteEntries(ctx, partition, partitionScoped, ignoreExpiry, e.clock.UnixNow())
}

// SizeBytes reports the backend's accounting of stored value bytes.
func (e *Engine) SizeBytes(ctx context.Context) (int64, error) {
	if err := e.checkDisposed("engine.SizeBytes"); err != nil {
		return 0, err
	}
	return e.cf.Load().CacheSizeBytes(ctx)
}

// Vacuum runs the dialect's optimization statement, a no-op on backends
// with no such concept.
func (e *Engine) Vacuum(ctx context.Context) error {
	if err := e.checkDisposed("engine.Vacuum"); err != nil {
		return err
	}
	return e.cf.Load().Vacuum(ctx)
}

// Stats returns a snapshot of row count, size bytes, and the current
// insertion-counter value.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	const op = "engine.Stats"
	if err := e.checkDisposed(op); err != nil {
		return Stats{}, err
	}
	cf := e.cf.Load()
	rows, err := cf.CountEntries(ctx, "", false, true, e.clock.UnixNow())
	if err != nil {
		return Stats{}, err
	}
	size, err := cf.CacheSizeBytes(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{RowCount: rows, SizeBytes: size, Insertions: e.insertions.Load()}, nil
}

// Partitions returns the distinct partition names currently present.
func (e *Engine) Partitions(ctx context.Context) ([]string, error) {
	if err := e.checkDisposed("engine.Partitions"); err != nil {
		return nil, err
	}
	return e.cf.Load().ListPartitions(ctx)
}
