//go:build unit

package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/LerianStudio/lib-guard/guard/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newTestFactory creates a MetricsFactory wired to an in-memory ManualReader so
// we can collect and inspect metric data without any exporter.
func newTestFactory(t *testing.T) (*MetricsFactory, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test-lib")

	factory, err := NewMetricsFactory(meter, log.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	return factory, reader
}

// collectMetrics drains the ManualReader into a ResourceMetrics snapshot.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

// findMetric searches a ResourceMetrics snapshot for a metric by name.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

// sumCounterValue extracts the total monotonic sum from a counter metric.
func sumCounterValue(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()

	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] data type, got %T", m.Data)

	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}

	return total
}

// counterDataPoints returns all data points for a counter metric.
func counterDataPoints(t *testing.T, m *metricdata.Metrics) []metricdata.DataPoint[int64] {
	t.Helper()

	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] data type, got %T", m.Data)

	return data.DataPoints
}

// histogramDataPoints returns all data points for a histogram metric.
func histogramDataPoints(t *testing.T, m *metricdata.Metrics) []metricdata.HistogramDataPoint[int64] {
	t.Helper()

	data, ok := m.Data.(metricdata.Histogram[int64])
	require.True(t, ok, "expected Histogram[int64] data type, got %T", m.Data)

	return data.DataPoints
}

// hasAttribute checks whether a set of KeyValues contains the given key=value pair.
func hasAttribute(attrs attribute.Set, key, value string) bool {
	v, found := attrs.Value(attribute.Key(key))
	if !found {
		return false
	}

	return v.AsString() == value
}

// ---------------------------------------------------------------------------
// Factory construction
// ---------------------------------------------------------------------------

func TestNewMetricsFactory(t *testing.T) {
	factory, _ := newTestFactory(t)

	assert.NotNil(t, factory)
	assert.NotNil(t, factory.meter)
	assert.NotNil(t, factory.logger)
}

func TestNewMetricsFactory_NilMeter(t *testing.T) {
	factory, err := NewMetricsFactory(nil, log.NewNop())

	require.ErrorIs(t, err, ErrNilMeter)
	assert.Nil(t, factory)
}

func TestNewNopFactory(t *testing.T) {
	factory := NewNopFactory()
	require.NotNil(t, factory)

	counter, err := factory.Counter(Metric{Name: "nop_counter"})
	require.NoError(t, err)
	assert.NoError(t, counter.AddOne(context.Background()))
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestCounterBuilder_AddAndAddOne(t *testing.T) {
	factory, reader := newTestFactory(t)
	ctx := context.Background()

	m := Metric{Name: "test_counter", Description: "a test counter", Unit: "1"}

	counter, err := factory.Counter(m)
	require.NoError(t, err)
	require.NoError(t, counter.Add(ctx, 5))

	counter, err = factory.Counter(m)
	require.NoError(t, err)
	require.NoError(t, counter.AddOne(ctx))

	rm := collectMetrics(t, reader)
	found := findMetric(rm, "test_counter")
	require.NotNil(t, found, "metric test_counter not found in collected data")

	assert.Equal(t, int64(6), sumCounterValue(t, found))
}

func TestCounterBuilder_LabelsCreateSeparateSeries(t *testing.T) {
	factory, reader := newTestFactory(t)
	ctx := context.Background()

	m := Metric{Name: "labeled_counter", Unit: "1"}

	counter, err := factory.Counter(m)
	require.NoError(t, err)

	require.NoError(t, counter.WithLabels(map[string]string{"component": "redis"}).AddOne(ctx))
	require.NoError(t, counter.WithLabels(map[string]string{"component": "postgres"}).Add(ctx, 2))

	rm := collectMetrics(t, reader)
	found := findMetric(rm, "labeled_counter")
	require.NotNil(t, found)

	points := counterDataPoints(t, found)
	require.Len(t, points, 2)

	for _, dp := range points {
		switch {
		case hasAttribute(dp.Attributes, "component", "redis"):
			assert.Equal(t, int64(1), dp.Value)
		case hasAttribute(dp.Attributes, "component", "postgres"):
			assert.Equal(t, int64(2), dp.Value)
		default:
			t.Fatalf("unexpected attribute set: %v", dp.Attributes)
		}
	}
}

func TestCounterBuilder_WithLabelsDoesNotMutateParent(t *testing.T) {
	factory, _ := newTestFactory(t)

	counter, err := factory.Counter(Metric{Name: "immutable_counter"})
	require.NoError(t, err)

	labeled := counter.WithLabels(map[string]string{"k": "v"})
	assert.NotSame(t, counter, labeled)
	assert.Empty(t, counter.attrs)
	assert.Len(t, labeled.attrs, 1)
}

func TestCounterBuilder_NilInstrument(t *testing.T) {
	builder := &CounterBuilder{}

	assert.ErrorIs(t, builder.AddOne(context.Background()), ErrNilCounter)
}

// ---------------------------------------------------------------------------
// Histograms
// ---------------------------------------------------------------------------

func TestHistogramBuilder_Record(t *testing.T) {
	factory, reader := newTestFactory(t)
	ctx := context.Background()

	m := Metric{
		Name:    "connect_duration_ms",
		Unit:    "ms",
		Buckets: []float64{10, 100, 1000},
	}

	histogram, err := factory.Histogram(m)
	require.NoError(t, err)
	require.NoError(t, histogram.WithAttributes(attribute.String("db", "postgres")).Record(ctx, 42))

	rm := collectMetrics(t, reader)
	found := findMetric(rm, "connect_duration_ms")
	require.NotNil(t, found)

	points := histogramDataPoints(t, found)
	require.Len(t, points, 1)
	assert.Equal(t, uint64(1), points[0].Count)
	assert.Equal(t, int64(42), points[0].Sum)
	assert.True(t, hasAttribute(points[0].Attributes, "db", "postgres"))
}

func TestHistogram_DefaultBucketsApplied(t *testing.T) {
	factory, _ := newTestFactory(t)

	histogram, err := factory.Histogram(Metric{Name: "unbucketed_ms"})
	require.NoError(t, err)
	assert.NotNil(t, histogram)
}

func TestHistogramBuilder_NilInstrument(t *testing.T) {
	builder := &HistogramBuilder{}

	assert.ErrorIs(t, builder.Record(context.Background(), 1), ErrNilHistogram)
}

// ---------------------------------------------------------------------------
// Caching
// ---------------------------------------------------------------------------

func TestFactory_ConcurrentCounterCreation(t *testing.T) {
	factory, reader := newTestFactory(t)
	ctx := context.Background()

	m := Metric{Name: "concurrent_counter", Unit: "1"}

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			counter, err := factory.Counter(m)
			if err != nil {
				t.Error(err)
				return
			}

			_ = counter.AddOne(ctx)
		}()
	}

	wg.Wait()

	rm := collectMetrics(t, reader)
	found := findMetric(rm, "concurrent_counter")
	require.NotNil(t, found)
	assert.Equal(t, int64(50), sumCounterValue(t, found))
}

func TestHistogramCacheKey(t *testing.T) {
	assert.Equal(t, "m", histogramCacheKey("m", nil))
	assert.Equal(t,
		histogramCacheKey("m", []float64{1, 2, 3}),
		histogramCacheKey("m", []float64{3, 2, 1}),
		"bucket order must not change the cache key")
	assert.NotEqual(t,
		histogramCacheKey("m", []float64{1, 2}),
		histogramCacheKey("m", []float64{1, 2, 3}))
}
