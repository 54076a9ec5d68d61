// Package maintenance implements the periodic sweep/vacuum loop: bulk
// removal of expired rows and, where the backend supports it, a
// post-sweep storage-reclaim pass.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/kvlite/kvlite/internal/clock"
	"github.com/kvlite/kvlite/internal/kverrors"
	"github.com/kvlite/kvlite/internal/storage"
)

// FactorySource yields the connection factory a sweep should run against.
// *storage.ConnectionFactory satisfies it directly; *engine.Engine
// satisfies it too, returning the currently live factory so sweeps keep
// hitting the right pool after a reconfigure swaps pools.
type FactorySource interface {
	ConnectionFactory() *storage.ConnectionFactory
}

// Maintenance owns the sweep/vacuum loop for one factory source. It is
// safe to call Run from multiple goroutines; overlapping sweeps are
// harmless since each row's deletion is independently atomic, but a
// caller that wants at-most-one-in-flight sweep should gate calls to Run
// itself (the engine's auto-clean trigger runs Run in its own goroutine
// per crossing, which is an acceptable, bounded amount of overlap).
type Maintenance struct {
	src   FactorySource
	clock clock.Clock
	log   *slog.Logger

	retryAttempts  int
	retryBaseDelay time.Duration

	metrics *instruments
}

// Option configures a Maintenance instance.
type Option func(*Maintenance)

// WithRetryPolicy bounds the exponential backoff applied when a sweep
// attempt fails with a transient/backend-unavailable error.
func WithRetryPolicy(attempts int, baseDelay time.Duration) Option {
	return func(m *Maintenance) {
		m.retryAttempts = attempts
		m.retryBaseDelay = baseDelay
	}
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Maintenance) { m.log = log }
}

// New builds a Maintenance bound to src. meter may be nil, in which case
// no metric instruments are registered.
func New(src FactorySource, clk clock.Clock, meter metric.Meter, opts ...Option) (*Maintenance, error) {
	m := &Maintenance{
		src:            src,
		clock:          clk,
		log:            slog.Default(),
		retryAttempts:  3,
		retryBaseDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	if meter != nil {
		ins, err := newInstruments(meter)
		if err != nil {
			return nil, err
		}
		m.metrics = ins
	}
	return m, nil
}

// Run performs one sweep-then-vacuum pass: delete every expired row, then
// (best-effort, logged-not-fatal) run the dialect's vacuum statement. The
// sweep is retried under exponential backoff when it fails with a
// transient backend error; vacuum failures are logged but never retried,
// since a vacuum is an optimization, not a correctness requirement.
func (m *Maintenance) Run(ctx context.Context) {
	removed, err := m.sweepWithRetry(ctx)
	if err != nil {
		m.log.ErrorContext(ctx, "maintenance sweep failed after retries", "error", err)
		return
	}
	m.log.InfoContext(ctx, "maintenance sweep complete", "rows_removed", removed)

	if err := m.src.ConnectionFactory().Vacuum(ctx); err != nil {
		m.log.WarnContext(ctx, "maintenance vacuum failed", "error", err)
	}
}

func (m *Maintenance) sweepWithRetry(ctx context.Context) (int64, error) {
	var removed int64
	op := func() error {
		n, err := m.Sweep(ctx)
		if err != nil {
			if kverrors.Is(err, kverrors.BackendUnavailable) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		removed = n
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = m.retryBaseDelay
	bo := backoff.WithMaxRetries(exp, uint64(m.retryAttempts))
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	return removed, err
}

// Sweep issues a single delete_entries(ignore_expiry=false) statement
// across every partition, removing all currently-expired rows.
func (m *Maintenance) Sweep(ctx context.Context) (int64, error) {
	n, err := m.src.ConnectionFactory().DeleteEntries(ctx, "", false, false, m.clock.UnixNow())
	if err != nil {
		return 0, err
	}
	if m.metrics != nil {
		m.metrics.sweepCount.Add(ctx, 1)
		m.metrics.rowsRemoved.Add(ctx, n)
	}
	return n, nil
}

// SizeBytes reports the backend's current accounting of stored value
// bytes.
func (m *Maintenance) SizeBytes(ctx context.Context) (int64, error) {
	return m.src.ConnectionFactory().CacheSizeBytes(ctx)
}

// RunSweepAndSizeCheck runs a retried Sweep and a cache-size read
// concurrently via errgroup; the first failure cancels the other step's
// context and is returned once both have finished. This exists for callers
// that want both numbers without serializing two independent statements.
func (m *Maintenance) RunSweepAndSizeCheck(ctx context.Context) (rowsRemoved, sizeBytes int64, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := m.sweepWithRetry(gctx)
		rowsRemoved = n
		return err
	})
	g.Go(func() error {
		n, err := m.src.ConnectionFactory().CacheSizeBytes(gctx)
		sizeBytes = n
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return rowsRemoved, sizeBytes, nil
}
