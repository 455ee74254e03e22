// Package ratelimit enforces per-principal request ceilings. Limits come
// from the resolved grant, expressed as requests per minute.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultIdleTTL is how long an untouched principal entry survives before
// eviction.
const DefaultIdleTTL = 10 * time.Minute

// Registry tracks one token-bucket limiter per principal. An entry's rate
// follows the grant: when a resolved limit changes, the limiter is rebuilt
// on the next check.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
	idleTTL time.Duration
	metrics *Metrics
	now     func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// RegistryOption is a functional option for the registry.
type RegistryOption func(*Registry)

// WithIdleTTL overrides the idle eviction window.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.idleTTL = ttl
	}
}

// WithMetrics sets the metrics for the registry.
func WithMetrics(metrics *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a rate limit registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[int64]*entry),
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow reports whether the principal may make one more request under the
// given per-minute limit. A non-positive limit disables limiting for the
// principal.
func (r *Registry) Allow(principalID int64, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	r.mu.Lock()
	e, ok := r.entries[principalID]
	if !ok || e.limit != perMinute {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
			limit:   perMinute,
		}
		r.entries[principalID] = e
	}
	e.lastSeen = r.now()
	limiter := e.limiter
	r.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed {
		r.metrics.RecordThrottle()
	}
	return allowed
}

// Evict drops entries idle longer than the configured TTL and returns how
// many were removed.
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			delete(r.entries, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked principals.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Metrics holds Prometheus metrics for rate limiting.
type Metrics struct {
	throttledTotal prometheus.Counter
}

// NewMetrics creates rate limit metrics registered on the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}

	m := &Metrics{
		throttledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "throttled_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.throttledTotal)
	}
	return m
}

// RecordThrottle records a throttled request.
func (m *Metrics) RecordThrottle() {
	if m == nil {
		return
	}
	m.throttledTotal.Inc()
}
