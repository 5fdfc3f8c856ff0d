package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lightning_map"

// Cycle results used as label values.
const (
	resultSuccess = "success"
	resultEmpty   = "empty"
	resultFailure = "failure"
)

// Metrics collected by the scheduler.
type Metrics struct {
	Cycles    *prometheus.CounterVec
	Duration  prometheus.Histogram
	Generated prometheus.Gauge
	Points    prometheus.Gauge
}

// NewMetrics returns unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "The total number of refresh cycles by result.",
		}, []string{"result"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent in each refresh cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		Generated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_generated_timestamp_seconds",
			Help:      "Unix time at which the cached map was rendered.",
		}),
		Points: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "points",
			Help:      "Number of observations drawn in the cached map.",
		}),
	}
}

// MustRegister registers every collector.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Cycles, m.Duration, m.Generated, m.Points)
}
