// Package metrics defines the Prometheus instruments the proxy exposes
// beyond the cache's own counters (internal/cache registers those directly
// via Cache.WithMetrics). This package covers the connection- and
// exchange-level view: accept rate, per-exchange outcome, duration, and
// concurrent connection count.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments registered for one proxy
// process.
type Metrics struct {
	reg *prometheus.Registry

	connectionsTotal      prometheus.Counter
	activeConnections     prometheus.Gauge
	exchangeOutcomesTotal *prometheus.CounterVec
	exchangeDuration      *prometheus.HistogramVec
}

// New constructs and registers the proxy's connection-level metrics against
// reg. The Handler method serves exactly what is registered on reg, so
// tests can use a scratch *prometheus.Registry instead of the global one.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_connections_total",
			Help: "Total TCP connections accepted.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_active_connections",
			Help: "Number of connections currently being handled by a worker.",
		}),
		exchangeOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_exchange_outcomes_total",
			Help: "Completed request/response exchanges by outcome.",
		}, []string{"outcome"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_exchange_duration_seconds",
			Help:    "Time from accept to connection close for one exchange.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.connectionsTotal, m.activeConnections, m.exchangeOutcomesTotal, m.exchangeDuration)
	return m
}

// Outcome labels recorded by ObserveExchange. Kept to a small, bounded set
// to avoid unbounded label cardinality.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeCacheMiss = "cache_miss"
	OutcomeClientErr = "client_error"
	OutcomeOriginErr = "origin_error"
)

// AcceptConnection records a newly accepted connection and returns a
// function the caller must invoke exactly once when the connection closes.
func (m *Metrics) AcceptConnection() func() {
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
	return m.activeConnections.Dec
}

// ObserveExchange records the outcome and duration of one completed
// request/response exchange.
func (m *Metrics) ObserveExchange(outcome string, dur time.Duration) {
	m.exchangeOutcomesTotal.WithLabelValues(outcome).Inc()
	m.exchangeDuration.WithLabelValues(outcome).Observe(dur.Seconds())
}

// Handler returns the HTTP handler the admin server mounts at /metrics,
// scoped to this Metrics' own registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
