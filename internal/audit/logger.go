package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/authcore-io/authcore/internal/observability"
)

// Logger is the audit logger interface.
type Logger interface {
	// LogEvent logs an audit event.
	LogEvent(ctx context.Context, event *Event)

	// LogAuthentication logs an authentication event.
	LogAuthentication(ctx context.Context, action Action, outcome Outcome, subject *Subject, reason string)

	// LogAuthorization logs an authorization decision.
	LogAuthorization(ctx context.Context, outcome Outcome, subject *Subject, resource *Resource, reason string)
}

// logger implements the Logger interface as JSON lines on a writer.
type logger struct {
	mu      sync.Mutex
	writer  io.Writer
	logger  observability.Logger
	metrics *Metrics
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithWriter sets the audit sink. Defaults to stdout.
func WithWriter(w io.Writer) LoggerOption {
	return func(l *logger) {
		l.writer = w
	}
}

// WithLogger sets the observability logger.
func WithLogger(obs observability.Logger) LoggerOption {
	return func(l *logger) {
		l.logger = obs
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) LoggerOption {
	return func(l *logger) {
		l.metrics = metrics
	}
}

// NewLogger creates an audit logger.
func NewLogger(opts ...LoggerOption) Logger {
	l := &logger{
		writer: os.Stdout,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogEvent implements Logger. Sink failures are swallowed after being
// logged and counted.
func (l *logger) LogEvent(_ context.Context, event *Event) {
	if event == nil {
		return
	}
	l.metrics.RecordEvent(event.Type, event.Action, event.Outcome)

	data, err := json.Marshal(event)
	if err != nil {
		l.metrics.RecordWriteFailure()
		l.logger.Warn("audit event marshal failed", observability.Error(err))
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, err = l.writer.Write(data)
	l.mu.Unlock()
	if err != nil {
		l.metrics.RecordWriteFailure()
		l.logger.Warn("audit event write failed",
			observability.String("event_id", event.ID),
			observability.Error(err),
		)
	}
}

// LogAuthentication implements Logger.
func (l *logger) LogAuthentication(ctx context.Context, action Action, outcome Outcome, subject *Subject, reason string) {
	event := NewEvent(EventTypeAuthentication, action, outcome)
	event.Subject = subject
	event.Reason = reason
	l.LogEvent(ctx, event)
}

// LogAuthorization implements Logger.
func (l *logger) LogAuthorization(ctx context.Context, outcome Outcome, subject *Subject, resource *Resource, reason string) {
	event := NewEvent(EventTypeAuthorization, ActionAccess, outcome)
	event.Subject = subject
	event.Resource = resource
	event.Reason = reason
	l.LogEvent(ctx, event)
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal   *prometheus.CounterVec
	writeFailures prometheus.Counter
}

// NewMetricsWithRegisterer creates audit metrics registered with the
// provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "action", "outcome"},
		),
		writeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "write_failures_total",
				Help:      "Total number of audit events that could not be written",
			},
		),
	}
	if registerer != nil {
		_ = registerer.Register(m.eventsTotal)
		_ = registerer.Register(m.writeFailures)
	}
	return m
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, action Action, outcome Outcome) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(action), string(outcome)).Inc()
}

// RecordWriteFailure records a swallowed sink failure.
func (m *Metrics) RecordWriteFailure() {
	if m == nil {
		return
	}
	m.writeFailures.Inc()
}

var _ Logger = (*logger)(nil)
