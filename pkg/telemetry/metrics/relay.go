// Package metrics exposes Prometheus instrumentation for the relay.
//
// All metrics live on a private registry so the exposition endpoint serves
// exactly what the relay registered, without process-global state leaking
// between tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccrelay/ccrelay/pkg/registry"
)

const namespace = "ccrelay"

// RelayMetrics tracks forwarding behavior per service and provider.
//
// Metrics:
//   - ccrelay_attempts_total: upstream attempts by service, provider, outcome
//   - ccrelay_attempt_latency_seconds: per-attempt latency
//   - ccrelay_failovers_total: pin advances past a failed provider
//   - ccrelay_exhaustions_total: requests for which every provider failed
//   - ccrelay_pinned_index: currently pinned provider index (-1 = unpinned)
//   - ccrelay_request_duration_seconds: end-to-end inbound request latency
type RelayMetrics struct {
	registry *prometheus.Registry

	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	failovers      *prometheus.CounterVec
	exhaustions    *prometheus.CounterVec
	pinnedIndex    *prometheus.GaugeVec
	duration       *prometheus.HistogramVec
}

// NewRelayMetrics creates the metric set on a fresh private registry,
// together with the standard Go runtime and process collectors.
func NewRelayMetrics() *RelayMetrics {
	m := &RelayMetrics{
		registry: prometheus.NewRegistry(),

		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Upstream forwarding attempts by service, provider, and outcome",
			},
			[]string{"service", "provider", "outcome"},
		),

		attemptLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_latency_seconds",
				Help:      "Latency of individual upstream attempts in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"service", "provider"},
		),

		failovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failovers_total",
				Help:      "Times the pinned provider was advanced past a failure",
			},
			[]string{"service"},
		),

		exhaustions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exhaustions_total",
				Help:      "Requests for which every configured provider failed",
			},
			[]string{"service"},
		),

		pinnedIndex: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pinned_index",
				Help:      "Currently pinned provider index per service (-1 when unpinned)",
			},
			[]string{"service"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end inbound request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"service", "status"},
		),
	}

	m.registry.MustRegister(
		m.attempts,
		m.attemptLatency,
		m.failovers,
		m.exhaustions,
		m.pinnedIndex,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordAttempt counts one upstream attempt. Satisfies the executor's
// recorder callback.
func (m *RelayMetrics) RecordAttempt(svc registry.Service, _ int, provider, outcome string, _ int, latency time.Duration) {
	m.attempts.WithLabelValues(string(svc), provider, outcome).Inc()
	m.attemptLatency.WithLabelValues(string(svc), provider).Observe(latency.Seconds())
}

// RecordFailover counts one pin advance for a service.
func (m *RelayMetrics) RecordFailover(svc registry.Service) {
	m.failovers.WithLabelValues(string(svc)).Inc()
}

// RecordExhaustion counts one fully failed request for a service.
func (m *RelayMetrics) RecordExhaustion(svc registry.Service) {
	m.exhaustions.WithLabelValues(string(svc)).Inc()
}

// SetPinnedIndex publishes the current pin position; -1 means no active pin.
func (m *RelayMetrics) SetPinnedIndex(svc registry.Service, index int) {
	m.pinnedIndex.WithLabelValues(string(svc)).Set(float64(index))
}

// ObserveRequest records one completed inbound request.
func (m *RelayMetrics) ObserveRequest(svc registry.Service, status string, d time.Duration) {
	m.duration.WithLabelValues(string(svc), status).Observe(d.Seconds())
}

// Handler serves the exposition endpoint for this metric set.
func (m *RelayMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry exposes the underlying registry. Used by tests to gather.
func (m *RelayMetrics) Registry() *prometheus.Registry {
	return m.registry
}
