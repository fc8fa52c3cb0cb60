package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the driver reports state
// transitions through. These are registered against an explicit
// Registerer, rather than via package-level prometheus.MustRegister
// globals, so more than one Driver (e.g. in tests) can exist in the same
// process without a duplicate-registration panic.
type Metrics struct {
	outcomeTotal    *prometheus.CounterVec
	outcomeDuration *prometheus.HistogramVec
	keyErrors       prometheus.Counter
	writeErrors     prometheus.Counter
}

// NewMetrics builds and registers the cache middleware's collectors against
// reg. Pass prometheus.DefaultRegisterer to publish on the default
// /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// outcomeTotal counts terminal requests by method and cache outcome
		// (HIT/STALE/MISS/BYPASS/ERROR). Kept low-cardinality: no path or
		// status label.
		outcomeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cacheproxy_requests_total",
				Help: "Total requests handled by the cache driver, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		// outcomeDuration captures end-to-end handling latency, including
		// any upstream poll, by outcome.
		outcomeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cacheproxy_request_duration_seconds",
				Help:    "End-to-end cache driver request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "outcome"},
		),
		keyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheproxy_key_errors_total",
			Help: "Total requests demoted to non-cacheable because the key extractor produced no parts",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheproxy_write_errors_total",
			Help: "Total cache writes that failed and were swallowed",
		}),
	}
	reg.MustRegister(m.outcomeTotal, m.outcomeDuration, m.keyErrors, m.writeErrors)
	return m
}

// ObserveOutcome implements driver.Metrics.
func (m *Metrics) ObserveOutcome(method, outcome string, dur time.Duration) {
	m.outcomeTotal.WithLabelValues(method, outcome).Inc()
	m.outcomeDuration.WithLabelValues(method, outcome).Observe(dur.Seconds())
}

// IncKeyErrors implements driver.Metrics.
func (m *Metrics) IncKeyErrors() { m.keyErrors.Inc() }

// IncWriteErrors implements driver.Metrics.
func (m *Metrics) IncWriteErrors() { m.writeErrors.Inc() }
