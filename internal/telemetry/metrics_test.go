package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	return totals
}

func TestMetricsRecordToProvider(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(provider)
	require.NoError(t, err)

	m.EventAppended("custom", "console")
	m.EventAppended("custom", "network")
	m.Fault("console.log")
	m.DuplicateTerminal()
	m.InFlight(1)
	m.InFlight(1)
	m.InFlight(-1)

	totals := collect(t, reader)
	assert.Equal(t, int64(2), totals["pagetap.events"])
	assert.Equal(t, int64(1), totals["pagetap.capture.faults"])
	assert.Equal(t, int64(1), totals["pagetap.network.duplicate_terminals"])
	assert.Equal(t, int64(1), totals["pagetap.network.inflight"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventAppended("native", "")
		m.Fault("x")
		m.DuplicateTerminal()
		m.InFlight(1)
	})
}
