// Package metrics exposes Prometheus counters for the relay pipeline.
//
// Metrics:
//   - hpn_relay_requests_total: chat requests by mode and outcome
//   - hpn_relay_request_duration_seconds: end-to-end chat request latency
//   - hpn_relay_attempts_total: orchestrator attempts by result
//   - hpn_relay_upstream_responses_total: upstream HTTP statuses by operation
//   - hpn_relay_stream_events_total: normalized events delivered to callers
//   - hpn_relay_cleanup_total: conversation deletions by outcome
//   - hpn_relay_cleanup_queue_depth: pending deletions
//   - hpn_relay_pool_credentials / hpn_relay_pool_resolved_organizations
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hpn_relay"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attempts        *prometheus.CounterVec
	upstream        *prometheus.CounterVec
	events          *prometheus.CounterVec
	cleanup         *prometheus.CounterVec
	cleanupQueue    prometheus.Gauge
	poolSize        prometheus.Gauge
	poolResolved    prometheus.Gauge
}

// New creates and registers the relay metrics. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Chat completion requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end chat completion latency in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Orchestrator attempts by result",
			},
			[]string{"result"},
		),
		upstream: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_responses_total",
				Help:      "Upstream HTTP responses by operation and status code",
			},
			[]string{"op", "code"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Normalized stream events delivered to callers by type",
			},
			[]string{"type"},
		),
		cleanup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_total",
				Help:      "Conversation deletions by outcome",
			},
			[]string{"outcome"},
		),
		cleanupQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cleanup_queue_depth",
			Help:      "Conversation deletions waiting for a worker",
		}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_credentials",
			Help:      "Session credentials in the pool",
		}),
		poolResolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_resolved_organizations",
			Help:      "Session credentials with a cached organization id",
		}),
	}

	registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.attempts,
		m.upstream,
		m.events,
		m.cleanup,
		m.cleanupQueue,
		m.poolSize,
		m.poolResolved,
	)

	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one finished chat request.
func (m *Metrics) ObserveRequest(stream bool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	mode := "sync"
	if stream {
		mode = "stream"
	}
	m.requests.WithLabelValues(mode, outcome).Inc()
	m.requestDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// IncAttempt records one orchestrator attempt.
func (m *Metrics) IncAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// ObserveUpstream records an upstream HTTP status.
func (m *Metrics) ObserveUpstream(op string, status int) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(op, strconv.Itoa(status)).Inc()
}

// IncEvent records an event forwarded to the caller.
func (m *Metrics) IncEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// IncCleanup records a finished deletion task.
func (m *Metrics) IncCleanup(outcome string) {
	if m == nil {
		return
	}
	m.cleanup.WithLabelValues(outcome).Inc()
}

// SetCleanupQueue sets the pending deletion count.
func (m *Metrics) SetCleanupQueue(n int) {
	if m == nil {
		return
	}
	m.cleanupQueue.Set(float64(n))
}

// SetPool records pool size and resolved organization count.
func (m *Metrics) SetPool(size, resolved int) {
	if m == nil {
		return
	}
	m.poolSize.Set(float64(size))
	m.poolResolved.Set(float64(resolved))
}
