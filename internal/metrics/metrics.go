// Package metrics provides Prometheus instrumentation for compliance checks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the check pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Check outcomes by status
	CheckOutcome *prometheus.CounterVec

	// Findings by issue type and severity
	Findings *prometheus.CounterVec

	// Stage latencies: validate, trade_coverage, rules, total, expiry_scan
	StageLatency *prometheus.HistogramVec

	// Worker message handling by result
	WorkerMessages *prometheus.CounterVec

	// Expiry reminders published
	ExpiryNotifications prometheus.Counter
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CheckOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_checks_total",
			Help: "Total compliance checks by resulting status",
		}, []string{"status"}),

		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_findings_total",
			Help: "Total compliance findings by issue type and severity",
		}, []string{"type", "severity"}),

		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_check_stage_duration_seconds",
			Help:    "Duration of compliance check stages",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"stage"}),

		WorkerMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_worker_messages_total",
			Help: "Submitted certificates handled by the worker, by result",
		}, []string{"result"}),

		ExpiryNotifications: f.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_expiry_notifications_total",
			Help: "Expiring-policy reminders published",
		}),
	}
}

// IncrementOutcome records a check outcome.
func (m *Metrics) IncrementOutcome(status string) {
	if m != nil {
		m.CheckOutcome.WithLabelValues(status).Inc()
	}
}

// AddFinding records one compliance finding.
func (m *Metrics) AddFinding(issueType, severity string) {
	if m != nil {
		m.Findings.WithLabelValues(issueType, severity).Inc()
	}
}

// ObserveStage records the duration of a check stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncrementWorker records a worker message result.
func (m *Metrics) IncrementWorker(result string) {
	if m != nil {
		m.WorkerMessages.WithLabelValues(result).Inc()
	}
}

// IncrementExpiryNotifications records published reminders.
func (m *Metrics) IncrementExpiryNotifications(n int) {
	if m != nil {
		m.ExpiryNotifications.Add(float64(n))
	}
}
