// Package metrics exposes fuzzing run and probe counters for Prometheus.
// All methods are safe on a nil *Collector, which records nothing.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/waftester/webfuzzer/pkg/finding"
)

// Run outcomes used for the runs_total label.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
)

// Collector holds the registry and all webfuzzer metrics.
type Collector struct {
	registry *prometheus.Registry

	probesTotal         *prometheus.CounterVec
	runsTotal           *prometheus.CounterVec
	datasetErrorsTotal  prometheus.Counter
	responseTimeSeconds *prometheus.HistogramVec
	running             prometheus.Gauge
}

// New creates a Collector on its own registry.
func New() (*Collector, error) {
	// Custom registry, so the default one is not polluted.
	c := &Collector{registry: prometheus.NewRegistry()}

	c.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webfuzzer_probes_total",
			Help: "Total number of probe results by method and severity",
		},
		[]string{"method", "severity"},
	)
	c.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webfuzzer_runs_total",
			Help: "Total number of finished fuzzing runs by outcome",
		},
		[]string{"outcome"},
	)
	c.datasetErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webfuzzer_dataset_errors_total",
		Help: "Total number of dataset records that could not be persisted",
	})
	c.responseTimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webfuzzer_response_time_seconds",
			Help:    "Probe response time distribution in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"method"},
	)
	c.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "webfuzzer_run_active",
		Help: "1 while a fuzzing run is in progress",
	})

	collectors := []prometheus.Collector{
		c.probesTotal,
		c.runsTotal,
		c.datasetErrorsTotal,
		c.responseTimeSeconds,
		c.running,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return c, nil
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveResult records one probe result.
func (c *Collector) ObserveResult(r finding.Result) {
	if c == nil {
		return
	}
	c.probesTotal.WithLabelValues(r.Method, string(r.Severity)).Inc()
	// Degraded results carry no timing.
	if !r.Failed() {
		c.responseTimeSeconds.WithLabelValues(r.Method).Observe(r.ResponseTime / 1000.0)
	}
}

// SetRunning sets the active-run gauge.
func (c *Collector) SetRunning(running bool) {
	if c == nil {
		return
	}
	if running {
		c.running.Set(1)
	} else {
		c.running.Set(0)
	}
}

// RunFinished counts a finished run by outcome.
func (c *Collector) RunFinished(outcome string) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(outcome).Inc()
}

// DatasetError counts a record the recorder failed to persist.
func (c *Collector) DatasetError() {
	if c == nil {
		return
	}
	c.datasetErrorsTotal.Inc()
}
