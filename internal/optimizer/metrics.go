package optimizer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcome labels.
const (
	outcomeMet    = "met"
	outcomeNotMet = "not_met"
	outcomeError  = "error"
)

// Metrics holds the Prometheus collectors for optimizer runs. A nil
// *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	iterations    *prometheus.HistogramVec
	scoringPasses *prometheus.CounterVec
	retries       *prometheus.CounterVec
	active        prometheus.Gauge
}

// NewMetrics registers the optimizer collectors with reg. Registering twice
// with the same registerer panics, as promauto does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textopt",
			Subsystem: "optimizer",
			Name:      "runs_total",
			Help:      "Optimizer runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "textopt",
			Subsystem: "optimizer",
			Name:      "run_duration_seconds",
			Help:      "Wall time of optimizer runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"mode"}),
		iterations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "textopt",
			Subsystem: "optimizer",
			Name:      "iterations_used",
			Help:      "Rewrite passes executed per optimize run.",
			Buckets:   prometheus.LinearBuckets(0, 1, 21),
		}, []string{"met"}),
		scoringPasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textopt",
			Subsystem: "optimizer",
			Name:      "scoring_passes_total",
			Help:      "Completed scoring passes by provider.",
		}, []string{"provider"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textopt",
			Subsystem: "optimizer",
			Name:      "retries_total",
			Help:      "Retried automation calls by call site and error class.",
		}, []string{"label", "class"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "textopt",
			Subsystem: "optimizer",
			Name:      "runs_active",
			Help:      "Runs currently in progress.",
		}),
	}
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) runFinished(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.runs.WithLabelValues(mode, outcome).Inc()
	m.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) observeIterations(n int, met bool) {
	if m == nil {
		return
	}
	label := "false"
	if met {
		label = "true"
	}
	m.iterations.WithLabelValues(label).Observe(float64(n))
}

func (m *Metrics) scoringPass(provider string) {
	if m == nil {
		return
	}
	m.scoringPasses.WithLabelValues(provider).Inc()
}

func (m *Metrics) retry(label, class string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(label, class).Inc()
}
