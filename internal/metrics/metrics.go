// Package metrics provides Prometheus instrumentation for match decisions and enrollments.
package metrics

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds facegate collectors on a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Decision outcomes by policy and outcome ("match", "no_match", "error")
	DecisionOutcome *prometheus.CounterVec

	// Closest distance seen per decision, when one exists
	DecisionDistance *prometheus.HistogramVec

	// Scan latency per policy
	ScanDuration *prometheus.HistogramVec

	ScannedCandidates prometheus.Counter
	SkippedCandidates prometheus.Counter

	// Enrollment attempts by status ("registered", "exists", "duplicate", "no_face", "invalid", "error")
	Enrollments *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry, including Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DecisionOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_decisions_total",
			Help: "Total match decisions by policy and outcome",
		}, []string{"policy", "outcome"}),

		DecisionDistance: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facegate_decision_distance",
			Help:    "Closest Euclidean distance found per decision",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.55, 0.6, 0.65, 0.7, 0.8, 1, 1.2, 1.5},
		}, []string{"policy"}),

		ScanDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facegate_scan_duration_seconds",
			Help:    "Duration of the nearest-identity scan",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"policy"}),

		ScannedCandidates: f.NewCounter(prometheus.CounterOpts{
			Name: "facegate_scan_candidates_total",
			Help: "Enrolled identities read by decision scans",
		}),

		SkippedCandidates: f.NewCounter(prometheus.CounterOpts{
			Name: "facegate_scan_skipped_total",
			Help: "Enrolled identities skipped for a missing or mismatched vector",
		}),

		Enrollments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_enrollments_total",
			Help: "Enrollment attempts by status",
		}, []string{"status"}),
	}
}

// ObserveDecision records one finished scan.
func (m *Metrics) ObserveDecision(policy, outcome string, distance float64, scanned, skipped int, d time.Duration) {
	if m == nil {
		return
	}
	m.DecisionOutcome.WithLabelValues(policy, outcome).Inc()
	if !math.IsInf(distance, 0) && !math.IsNaN(distance) {
		m.DecisionDistance.WithLabelValues(policy).Observe(distance)
	}
	m.ScanDuration.WithLabelValues(policy).Observe(d.Seconds())
	m.ScannedCandidates.Add(float64(scanned))
	m.SkippedCandidates.Add(float64(skipped))
}

// IncrementDecisionError records a decision that failed before producing a result.
func (m *Metrics) IncrementDecisionError(policy string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(policy, "error").Inc()
	}
}

// IncrementEnrollment records an enrollment attempt.
func (m *Metrics) IncrementEnrollment(status string) {
	if m != nil {
		m.Enrollments.WithLabelValues(status).Inc()
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
