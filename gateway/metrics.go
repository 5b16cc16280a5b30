package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics carries the instrumentation recorded at the gateway boundary.
// Observations happen as explicit post-call code in the gateway, not
// through hidden hooks.
type Metrics struct {
	attempts  *prometheus.CounterVec
	duration  prometheus.Histogram
	evictions prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Authentication attempts by pipeline stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auth_duration_seconds",
			Help:    "End-to-end authentication latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_cap_evictions_total",
			Help: "Sessions destroyed by per-user cap enforcement.",
		}),
	}
	reg.MustRegister(m.attempts, m.duration, m.evictions)
	return m
}

// SessionEvictions exposes the eviction counter for wiring into the
// session store.
func (m *Metrics) SessionEvictions() prometheus.Counter {
	return m.evictions
}

func (m *Metrics) observe(stage, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(stage, outcome).Inc()
	m.duration.Observe(seconds)
}
