package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered on a per-server registry.
type Metrics struct {
	registry *prometheus.Registry

	// sessionsSubmitted counts submissions. Labels: result (ok, invalid, error)
	sessionsSubmitted *prometheus.CounterVec
	// trialsRecorded counts stored trials.
	trialsRecorded prometheus.Counter
	// moduleThreshold is the distribution of module thresholds in percent contrast.
	moduleThreshold prometheus.Histogram
}

// NewMetrics registers the collaborator metrics and the Go runtime
// collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessionsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcsf",
			Name:      "sessions_submitted_total",
			Help:      "Test sessions submitted, by result",
		}, []string{"result"}),
		trialsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dcsf",
			Name:      "trials_recorded_total",
			Help:      "Trials stored with submitted sessions",
		}),
		moduleThreshold: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dcsf",
			Name:      "module_threshold",
			Help:      "Module contrast thresholds in percent",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 50, 75, 100},
		}),
	}
}

// Registry returns the registry scraped by /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
