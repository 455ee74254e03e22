package token

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token operations.
type Metrics struct {
	issuedTotal          *prometheus.CounterVec
	verificationTotal    *prometheus.CounterVec
	verificationDuration prometheus.Histogram
	revocationsTotal     prometheus.Counter
	sessionWriteFailures prometheus.Counter
}

// NewMetrics creates token metrics registered on the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}

	m := &Metrics{
		issuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "issued_total",
				Help:      "Total number of tokens issued",
			},
			[]string{"type"},
		),
		verificationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "verification_total",
				Help:      "Total number of token verification attempts",
			},
			[]string{"result"},
		),
		verificationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "verification_duration_seconds",
				Help:      "Token verification duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
			},
		),
		revocationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "revocations_total",
				Help:      "Total number of tokens revoked",
			},
		),
		sessionWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "session_write_failures_total",
				Help:      "Total number of best-effort session writes that failed",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.issuedTotal,
			m.verificationTotal,
			m.verificationDuration,
			m.revocationsTotal,
			m.sessionWriteFailures,
		)
	}
	return m
}

// RecordIssued records an issued token by type.
func (m *Metrics) RecordIssued(tokenType string) {
	if m == nil {
		return
	}
	m.issuedTotal.WithLabelValues(tokenType).Inc()
}

// RecordVerification records a verification attempt and its duration.
func (m *Metrics) RecordVerification(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.verificationTotal.WithLabelValues(result).Inc()
	m.verificationDuration.Observe(duration.Seconds())
}

// RecordRevocation records a completed revocation.
func (m *Metrics) RecordRevocation() {
	if m == nil {
		return
	}
	m.revocationsTotal.Inc()
}

// RecordSessionWriteFailure records a swallowed session write failure.
func (m *Metrics) RecordSessionWriteFailure() {
	if m == nil {
		return
	}
	m.sessionWriteFailures.Inc()
}
