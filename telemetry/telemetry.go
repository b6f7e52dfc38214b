// Package telemetry exposes the relay's Prometheus metrics. Every metric is a
// no-op until InitializeTelemetry enables the registry and InitMetrics runs.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "cdcrelay"

var (
	registry    *prometheus.Registry
	constLabels prometheus.Labels
)

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Counter
	Set(float64)
	Dec()
	Sub(float64)
}

// CounterVec and HistogramVec take label values in declaration order
type CounterVec interface {
	With(labels ...string) Counter
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

// noop satisfies Counter, Gauge and Histogram
type noop struct{}

func (noop) Observe(float64) {}
func (noop) Set(float64)     {}
func (noop) Inc()            {}
func (noop) Dec()            {}
func (noop) Add(float64)     {}
func (noop) Sub(float64)     {}

type noopCounters struct{}

func (noopCounters) With(...string) Counter { return noop{} }

type noopHistograms struct{}

func (noopHistograms) With(...string) Histogram { return noop{} }

type counterVec struct{ *prometheus.CounterVec }

func (v counterVec) With(labels ...string) Counter { return v.WithLabelValues(labels...) }

type histogramVec struct{ *prometheus.HistogramVec }

func (v histogramVec) With(labels ...string) Histogram { return v.WithLabelValues(labels...) }

// register adds c to the registry and hands it back
func register[C prometheus.Collector](c C) C {
	registry.MustRegister(c)
	return c
}

func opts(name, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: namespace, Name: name, Help: help, ConstLabels: constLabels}
}

func histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	o := opts(name, help)
	return prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	}
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return noop{}
	}
	return register(prometheus.NewGauge(prometheus.GaugeOpts(opts(name, help))))
}

func NewHistogram(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return noop{}
	}
	return register(prometheus.NewHistogram(histogramOpts(name, help, buckets)))
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounters{}
	}
	return counterVec{register(prometheus.NewCounterVec(prometheus.CounterOpts(opts(name, help)), labels))}
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopHistograms{}
	}
	return histogramVec{register(prometheus.NewHistogramVec(histogramOpts(name, help, buckets), labels))}
}

// InitializeTelemetry creates the registry with process and runtime
// collectors. All metrics carry the instance_id label.
func InitializeTelemetry(enabled bool, instanceID string) {
	if !enabled {
		return
	}

	registry = prometheus.NewRegistry()
	constLabels = prometheus.Labels{"instance_id": instanceID}
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	log.Info().Msg("Prometheus metrics enabled at /metrics")
}

// GetMetricsHandler returns nil when metrics are disabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
