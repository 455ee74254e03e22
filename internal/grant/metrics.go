package grant

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for grant resolution.
type Metrics struct {
	resolutionsTotal *prometheus.CounterVec
}

// NewMetrics creates resolver metrics registered on the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}

	m := &Metrics{
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grant",
				Name:      "resolutions_total",
				Help:      "Total number of grant resolutions",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.resolutionsTotal)
	}
	return m
}

// RecordResolution records a resolution outcome.
func (m *Metrics) RecordResolution(result string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(result).Inc()
}
