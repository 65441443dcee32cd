package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thushan/olla-link/internal/adapter/gate"
	"github.com/thushan/olla-link/internal/core/domain"
)

var readinessStates = []domain.ReadinessState{
	domain.StateUninitialized,
	domain.StateInitializing,
	domain.StateReady,
	domain.StateDegraded,
	domain.StateFailed,
}

type readinessMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func newReadinessMetrics(reg prometheus.Registerer) *readinessMetrics {
	m := &readinessMetrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "olla_link", Subsystem: "readiness", Name: "state",
			Help: "1 for the current readiness state, 0 for the others.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "olla_link", Subsystem: "readiness", Name: "transitions_total",
			Help: "Readiness transitions by target state.",
		}, []string{"to"}),
	}
	m.state = gate.Register(reg, m.state)
	m.transitions = gate.Register(reg, m.transitions)
	m.set(domain.StateUninitialized)
	return m
}

func (m *readinessMetrics) observe(change domain.ReadinessChange) {
	m.set(change.To)
	if change.From != change.To {
		m.transitions.WithLabelValues(change.To.String()).Inc()
	}
}

func (m *readinessMetrics) set(current domain.ReadinessState) {
	for _, s := range readinessStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}
