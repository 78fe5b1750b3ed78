package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the transitions counter.
const (
	OutcomeApplied     = "applied"
	OutcomeNotFound    = "not_found"
	OutcomeConflict    = "conflict"
	OutcomeUnavailable = "store_unavailable"
	OutcomeError       = "error"
)

// Metrics provides observability for the record workflow.
type Metrics struct {
	// Transitions by action and outcome
	Transitions *prometheus.CounterVec

	// Pipeline step latencies (lock, load, persist, audit, index)
	StepLatency *prometheus.HistogramVec

	// Audit appends that failed after the transition was persisted
	AuditFailures prometheus.Counter

	// Index upserts that failed after the transition was persisted
	IndexFailures prometheus.Counter
}

// New registers the workflow metrics on reg, or on the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crvs_workflow_transitions_total",
			Help: "Lifecycle actions by action and outcome",
		}, []string{"action", "outcome"}),

		StepLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crvs_workflow_step_duration_seconds",
			Help:    "Duration of lifecycle pipeline steps",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"step"}),

		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crvs_workflow_audit_failures_total",
			Help: "Audit appends that failed after a persisted transition",
		}),

		IndexFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crvs_workflow_index_failures_total",
			Help: "Search index upserts that failed after a persisted transition",
		}),
	}
}

func (m *Metrics) IncrementTransition(action, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(action, outcome).Inc()
	}
}

func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m != nil {
		m.StepLatency.WithLabelValues(step).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementAuditFailure() {
	if m != nil {
		m.AuditFailures.Inc()
	}
}

func (m *Metrics) IncrementIndexFailure() {
	if m != nil {
		m.IndexFailures.Inc()
	}
}
