package maintenance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/kvlite/kvlite/internal/clock"
	"github.com/kvlite/kvlite/internal/maintenance"
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

func TestSweepRemovesOnlyExpiredRows(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)
	fc := clock.NewFake(1000)

	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "1", Partition: "p", Key: "live", UTCExpiry: 2000, Value: []byte("v"), UTCCreation: 1}))
	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "2", Partition: "p", Key: "dead", UTCExpiry: 500, Value: []byte("v"), UTCCreation: 1}))

	m, err := maintenance.New(cf, fc, nil)
	require.NoError(t, err)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	count, err := cf.CountEntries(ctx, "p", true, true, fc.UnixNow())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRunIsBestEffortOnVacuum(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)
	fc := clock.NewFake(0)

	m, err := maintenance.New(cf, fc, nil, maintenance.WithRetryPolicy(1, time.Millisecond))
	require.NoError(t, err)

	m.Run(ctx) // sqlite's VacuumStatement runs VACUUM; Run must not panic or block
}

func TestSweepRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)
	fc := clock.NewFake(1000)

	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "1", Partition: "p", Key: "dead1", UTCExpiry: 500, Value: []byte("v"), UTCCreation: 1}))
	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "2", Partition: "p", Key: "dead2", UTCExpiry: 600, Value: []byte("v"), UTCCreation: 1}))
	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "3", Partition: "p", Key: "live", UTCExpiry: 2000, Value: []byte("payload"), UTCCreation: 1}))

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "kvlite-test"))),
	)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	meter := provider.Meter("kvlite")

	m, err := maintenance.New(cf, fc, meter)
	require.NoError(t, err)
	require.NoError(t, m.RegisterSizeGauge(meter))
	require.NoError(t, m.RegisterRowCountGauge(meter))

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, rec := range sm.Metrics {
			switch data := rec.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				got[rec.Name] = total
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					got[rec.Name] = data.DataPoints[len(data.DataPoints)-1].Value
				}
			}
		}
	}

	assert.EqualValues(t, 1, got["kvlite.maintenance.sweeps"])
	assert.EqualValues(t, 2, got["kvlite.maintenance.rows_removed"])
	assert.EqualValues(t, 1, got["kvlite.cache.row_count"])
	assert.EqualValues(t, int64(len("payload")), got["kvlite.cache.size_bytes"])
}

func TestRunSweepAndSizeCheckReturnsBothNumbers(t *testing.T) {
	ctx := context.Background()
	cf := newTestFactory(t)
	fc := clock.NewFake(1000)

	require.NoError(t, cf.UpsertEntry(ctx, &storage.CacheEntry{ID: "1", Partition: "p", Key: "dead", UTCExpiry: 500, Value: []byte("hello"), UTCCreation: 1}))

	m, err := maintenance.New(cf, fc, nil)
	require.NoError(t, err)

	removed, size, err := m.RunSweepAndSizeCheck(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.GreaterOrEqual(t, size, int64(0))
}
