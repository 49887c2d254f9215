// Package metrics exposes Prometheus instrumentation for the eigenface pipeline
// and the HTTP API.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all eigenfaces metrics.
type Registry struct {
	reg *prometheus.Registry

	// StageDuration tracks the duration of each pipeline stage.
	StageDuration *prometheus.HistogramVec

	// Solves counts loading solves by set (train, test, probe).
	Solves *prometheus.CounterVec

	// IdentifyRequests counts identify requests by result.
	IdentifyRequests *prometheus.CounterVec

	// Runs counts completed pipeline runs by result.
	Runs *prometheus.CounterVec
}

// NewRegistry creates a registry with all metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eigenfaces_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage", "result"},
		),
		Solves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eigenfaces_solves_total",
				Help: "Total number of least-squares loading solves",
			},
			[]string{"set"},
		),
		IdentifyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eigenfaces_identify_requests_total",
				Help: "Total number of identify requests",
			},
			[]string{"result"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eigenfaces_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"result"},
		),
	}

	r.reg.MustRegister(r.StageDuration, r.Solves, r.IdentifyRequests, r.Runs)
	return r
}

// ObserveStage records the duration of a pipeline stage.
func (r *Registry) ObserveStage(stage string, err error, d time.Duration) {
	r.StageDuration.WithLabelValues(stage, resultLabel(err)).Observe(d.Seconds())
}

// Handler returns the HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
