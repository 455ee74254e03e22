package access

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for access decisions.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
}

// NewMetrics creates filter metrics registered on the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "access",
				Name:      "decisions_total",
				Help:      "Total number of access decisions",
			},
			[]string{"scope", "decision"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.decisionsTotal)
	}
	return m
}

// RecordDecision records an access decision.
func (m *Metrics) RecordDecision(scope, decision string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(scope, decision).Inc()
}
