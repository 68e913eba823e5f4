package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldassist"

// Metrics tracks backend attempts, fallbacks and local availability.
//
// Metrics:
//   - fieldassist_provider_attempts_total: attempts by provider and outcome
//   - fieldassist_provider_latency_seconds: backend call latency
//   - fieldassist_fallbacks_total: fallbacks away from a failed provider
//   - fieldassist_exhausted_total: requests where every backend failed
//   - fieldassist_local_available: last local probe result (1=reachable)
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	attempts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	fallbacks *prometheus.CounterVec
	exhausted prometheus.Counter
	local     prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_attempts_total",
				Help:      "Backend attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Backend call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Fallbacks away from a failed provider",
			},
			[]string{"from"},
		),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exhausted_total",
			Help:      "Requests for which every backend failed",
		}),
		local: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "local_available",
			Help:      "Result of the last local backend probe (1=reachable, 0=unreachable)",
		}),
	}

	m.registry.MustRegister(
		m.attempts,
		m.latency,
		m.fallbacks,
		m.exhausted,
		m.local,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordAttempt counts one backend call and observes its latency.
func (m *Metrics) RecordAttempt(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(provider, outcome).Inc()
	m.latency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordFallback counts a move away from provider.
func (m *Metrics) RecordFallback(from string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(from).Inc()
}

// RecordExhausted counts a request that failed on every backend.
func (m *Metrics) RecordExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}

// SetLocalAvailable records the latest probe result.
func (m *Metrics) SetLocalAvailable(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.local.Set(1)
		return
	}
	m.local.Set(0)
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
