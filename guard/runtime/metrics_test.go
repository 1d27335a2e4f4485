//go:build unit

package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/LerianStudio/lib-guard/guard/log"
	"github.com/LerianStudio/lib-guard/guard/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetricsFactory(t *testing.T) (*metrics.MetricsFactory, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := metrics.NewMetricsFactory(mp.Meter("runtime-test"), log.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	return factory, reader
}

func collectCounterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, dp := range data.DataPoints {
				total += dp.Value
			}
		}
	}

	return total
}

// Not parallel - modifies global state.
func TestInitPanicMetrics(t *testing.T) {
	resetGlobals(t)

	assert.Nil(t, GetPanicMetrics())

	// Nil factory is ignored.
	InitPanicMetrics(nil)
	assert.Nil(t, GetPanicMetrics())

	factory, _ := newTestMetricsFactory(t)
	InitPanicMetrics(factory)
	first := GetPanicMetrics()
	require.NotNil(t, first)

	// Second init is a no-op.
	otherFactory, _ := newTestMetricsFactory(t)
	InitPanicMetrics(otherFactory)
	assert.Same(t, first, GetPanicMetrics())

	ResetPanicMetrics()
	assert.Nil(t, GetPanicMetrics())
}

// Not parallel - modifies global state.
func TestRecordPanicRecovered(t *testing.T) {
	resetGlobals(t)

	factory, reader := newTestMetricsFactory(t)
	InitPanicMetrics(factory)

	GetPanicMetrics().RecordPanicRecovered(context.Background(), "http", "handler")
	GetPanicMetrics().RecordPanicRecovered(context.Background(), "http", "handler")

	total := collectCounterTotal(t, reader, panicRecoveredMetric.Name)
	assert.Equal(t, int64(2), total)
}

// Not parallel - modifies global state.
func TestRecordPanicRecovered_SanitizesLabels(t *testing.T) {
	resetGlobals(t)

	factory, reader := newTestMetricsFactory(t)
	InitPanicMetrics(factory)

	longComponent := strings.Repeat("x", 200)
	GetPanicMetrics().RecordPanicRecovered(context.Background(), longComponent, "handler")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != panicRecoveredMetric.Name {
				continue
			}

			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, dp := range data.DataPoints {
				for _, attr := range dp.Attributes.ToSlice() {
					assert.LessOrEqual(t, len(attr.Value.AsString()), 64,
						"metric labels must be truncated")
				}
			}
		}
	}
}

// Not parallel - modifies global state.
func TestRecordPanicMetric_UninitializedIsNoop(t *testing.T) {
	resetGlobals(t)

	require.NotPanics(t, func() {
		recordPanicMetric(context.Background(), "http", "handler")
	})
}

// Not parallel - modifies global state.
func TestRecordPanicRecovered_NilReceiverIsNoop(t *testing.T) {
	resetGlobals(t)

	var pm *PanicMetrics

	require.NotPanics(t, func() {
		pm.RecordPanicRecovered(context.Background(), "http", "handler")
	})
}
