package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopWhenDisabled(t *testing.T) {
	registry = nil
	InitializeTelemetry(false, "test")

	assert.IsType(t, noop{}, NewGauge("noop_gauge", "noop"))
	assert.IsType(t, noop{}, NewHistogram("noop_seconds", "noop", BatchBuckets))
	assert.IsType(t, noopCounters{}, NewCounterVec("noop_vec_total", "noop", []string{"l"}))
	assert.Nil(t, GetMetricsHandler())

	// No-ops accept any use
	NewCounterVec("noop_vec_total", "noop", []string{"l"}).With("x").Inc()
	NewHistogramVec("noop_seconds", "noop", []string{"l"}, BatchBuckets).With("x").Observe(1)
}

func TestMetricsRegisteredWhenEnabled(t *testing.T) {
	defer func() { registry = nil }()

	InitializeTelemetry(true, "test-instance")
	InitMetrics()
	require.NotNil(t, GetMetricsHandler())

	RecordsTotal.With("published").Inc()
	PublishEntriesTotal.With("mock", "ok").Add(2)

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
			for _, l := range m.GetLabel() {
				if l.GetName() == "instance_id" {
					assert.Equal(t, "test-instance", l.GetValue())
				}
			}
		}
	}
	assert.Equal(t, 1.0, values["cdcrelay_records_total"])
	assert.Equal(t, 2.0, values["cdcrelay_publish_entries_total"])
}
