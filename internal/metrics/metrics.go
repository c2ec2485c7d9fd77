// Package metrics provides Prometheus metrics for the cofounder service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	StateTransitions    *prometheus.CounterVec
	CapabilityFallbacks *prometheus.CounterVec
	ContractsBuilt      prometheus.Counter
	Evaluations         *prometheus.CounterVec
	ComplianceScore     prometheus.Histogram
	Deviations          *prometheus.CounterVec
	Corrections         *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cofounder_state_transitions_total",
				Help: "Conversation state transitions",
			},
			[]string{"from", "to"},
		),
		CapabilityFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cofounder_capability_fallbacks_total",
				Help: "Times a component took its fallback path because the completion capability failed",
			},
			[]string{"component"},
		),
		ContractsBuilt: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cofounder_contracts_built_total",
				Help: "Founder contracts created",
			},
		),
		Evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cofounder_compliance_evaluations_total",
				Help: "Outputs evaluated against a contract",
			},
			[]string{"degraded"},
		),
		ComplianceScore: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cofounder_compliance_score",
				Help:    "Compliance score of evaluated outputs",
				Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
			},
		),
		Deviations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cofounder_deviations_total",
				Help: "Deviation alerts raised",
			},
			[]string{"type", "severity"},
		),
		Corrections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cofounder_corrections_total",
				Help: "Deviation resolutions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Transition records a conversation state change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// Fallback records a capability fallback in component.
func (m *Metrics) Fallback(component string) {
	if m == nil {
		return
	}
	m.CapabilityFallbacks.WithLabelValues(component).Inc()
}

// ContractBuilt records a new contract.
func (m *Metrics) ContractBuilt() {
	if m == nil {
		return
	}
	m.ContractsBuilt.Inc()
}

// Evaluated records one compliance evaluation.
func (m *Metrics) Evaluated(score float64, degraded bool) {
	if m == nil {
		return
	}
	label := "false"
	if degraded {
		label = "true"
	}
	m.Evaluations.WithLabelValues(label).Inc()
	m.ComplianceScore.Observe(score)
}

// Deviation records a raised alert.
func (m *Metrics) Deviation(kind, severity string) {
	if m == nil {
		return
	}
	m.Deviations.WithLabelValues(kind, severity).Inc()
}

// Resolved records an alert resolution (auto-corrected or escalated).
func (m *Metrics) Resolved(outcome string) {
	if m == nil {
		return
	}
	m.Corrections.WithLabelValues(outcome).Inc()
}
