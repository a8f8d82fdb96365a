// Package metrics holds the Prometheus collectors for inventory saga outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inventory"

// Outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient"
	OutcomeConflict     = "conflict"
	OutcomeCompensated  = "compensated"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
)

type Metrics struct {
	reservations    *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	conflictRetries prometheus.Counter
}

// New registers the collectors on reg. A nil reg leaves them unregistered,
// which keeps tests from colliding on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Stock movements attempted, by movement kind and outcome.",
		}, []string{"movement", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensating stock adjustments, by operation and outcome. outcome=failed means stock and ledger disagree.",
		}, []string{"operation", "outcome"}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Reservations re-read and retried after losing a conditional decrement race.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.reservations, m.compensations, m.conflictRetries)
	}
	return m
}

func (m *Metrics) Reservation(movement, outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(movement, outcome).Inc()
}

func (m *Metrics) Compensation(operation, outcome string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}
