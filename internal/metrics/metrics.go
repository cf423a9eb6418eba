// Package metrics holds the Prometheus instrumentation this service
// exposes at GET /metrics: counters for events received/processed/errored,
// a histogram for execution duration, and gauges for active session and
// workspace occupancy. Ambient observability, not the out-of-scope
// dashboard aggregation queries themselves.
//
// Grounded on internal/escrow/metrics.go's promauto-constructed,
// struct-of-vectors shape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector this service registers.
type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	EventsErrored   *prometheus.CounterVec

	ExecutionDuration *prometheus.HistogramVec

	ActiveSessions   prometheus.Gauge
	ActiveWorkspaces prometheus.Gauge

	DispatchQueueDepth prometheus.Gauge
}

// New creates and registers all collectors against reg. Both cmd/server
// and the tests pass a private prometheus.NewRegistry(), so repeated runs
// never collide on collector names already registered elsewhere.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitlab_copilot_events_received_total",
				Help: "Total number of webhook events accepted by the receiver.",
			},
			[]string{"kind"}, // issue, merge_request, note
		),

		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitlab_copilot_events_processed_total",
				Help: "Total number of events the processor finished, by outcome.",
			},
			[]string{"kind", "status"}, // status: processed, error
		),

		EventsErrored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitlab_copilot_events_errored_total",
				Help: "Total number of events that ended in an error, by stage.",
			},
			[]string{"stage"}, // cmd/server records "process"
		),

		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gitlab_copilot_execution_duration_seconds",
				Help:    "Duration of one AI CLI execution.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"provider"}, // claude, codex
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitlab_copilot_active_sessions",
				Help: "Current number of tracked thread sessions.",
			},
		),

		ActiveWorkspaces: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitlab_copilot_active_workspaces",
				Help: "Current number of on-disk workspace checkouts.",
			},
		),

		DispatchQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitlab_copilot_dispatch_queue_depth",
				Help: "Number of events buffered in the background dispatch queue.",
			},
		),
	}
}

// RecordReceived increments the received counter for one event kind.
func (m *Metrics) RecordReceived(kind string) {
	m.EventsReceived.WithLabelValues(kind).Inc()
}

// RecordProcessed increments the processed counter for one (kind, status) pair.
func (m *Metrics) RecordProcessed(kind, status string) {
	m.EventsProcessed.WithLabelValues(kind, status).Inc()
}

// RecordError increments the errored counter for the stage that failed.
func (m *Metrics) RecordError(stage string) {
	m.EventsErrored.WithLabelValues(stage).Inc()
}

// RecordExecutionDuration observes how long one execution took.
func (m *Metrics) RecordExecutionDuration(provider string, seconds float64) {
	m.ExecutionDuration.WithLabelValues(provider).Observe(seconds)
}

// SetActiveSessions updates the active-session gauge; cmd/server samples
// it from session.Store.Stats on a fixed ticker.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// SetActiveWorkspaces updates the active-workspace gauge.
func (m *Metrics) SetActiveWorkspaces(n int) {
	m.ActiveWorkspaces.Set(float64(n))
}

// SetDispatchQueueDepth updates the dispatch-queue-depth gauge.
func (m *Metrics) SetDispatchQueueDepth(n int) {
	m.DispatchQueueDepth.Set(float64(n))
}

// Handler returns the HTTP handler to mount at GET /metrics, serving
// Prometheus's global default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns the HTTP handler for a specific gatherer, for callers
// that register collectors against a private registry instead of the
// global default one.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
