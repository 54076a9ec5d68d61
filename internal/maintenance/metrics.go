package maintenance

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// instruments groups the otel/metric instruments Maintenance registers
// once per instance. The package only registers instruments; wiring an
// exporter that reads them is the host process's concern.
type instruments struct {
	sweepCount  metric.Int64Counter
	rowsRemoved metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	sweepCount, err := meter.Int64Counter(
		"kvlite.maintenance.sweeps",
		metric.WithDescription("Number of maintenance sweep passes run"),
	)
	if err != nil {
		return nil, err
	}
	rowsRemoved, err := meter.Int64Counter(
		"kvlite.maintenance.rows_removed",
		metric.WithDescription("Number of expired rows removed by sweeps"),
	)
	if err != nil {
		return nil, err
	}
	return &instruments{sweepCount: sweepCount, rowsRemoved: rowsRemoved}, nil
}

// RegisterSizeGauge registers an asynchronous gauge that reports the
// backend's current cache size in bytes, read through the live connection
// factory's CacheSizeBytes. Pair with RegisterRowCountGauge to also track
// row count.
func (m *Maintenance) RegisterSizeGauge(meter metric.Meter) error {
	_, err := meter.Int64ObservableGauge(
		"kvlite.cache.size_bytes",
		metric.WithDescription("Current cache size in bytes, as reported by the backend"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := m.src.ConnectionFactory().CacheSizeBytes(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}

// RegisterRowCountGauge registers an asynchronous gauge reporting the
// current live row count across all partitions.
func (m *Maintenance) RegisterRowCountGauge(meter metric.Meter) error {
	_, err := meter.Int64ObservableGauge(
		"kvlite.cache.row_count",
		metric.WithDescription("Current live row count, across all partitions"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := m.src.ConnectionFactory().CountEntries(ctx, "", false, false, m.clock.UnixNow())
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}
