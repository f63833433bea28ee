package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics shared across session orchestration.
type Metrics struct {
	SessionsCreated   *prometheus.CounterVec
	SessionsCompleted *prometheus.CounterVec
	SessionsSwept     prometheus.Counter
	ActiveSessions    prometheus.Gauge
	TransitionsTotal  *prometheus.CounterVec
	StaleTransitions  prometheus.Counter
	EventsDropped     *prometheus.CounterVec
	Revocations       prometheus.Counter
	OrchestrationTime *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SessionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcbridge_sessions_created_total",
			Help: "Total number of sessions created",
		}, []string{"kind", "protocol"}),
		SessionsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcbridge_sessions_completed_total",
			Help: "Total number of sessions reaching a terminal state",
		}, []string{"kind", "state"}),
		SessionsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcbridge_sessions_swept_total",
			Help: "Total number of idle sessions forced to error by the sweeper",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vcbridge_active_sessions",
			Help: "Current number of non-terminal sessions",
		}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcbridge_session_transitions_total",
			Help: "Total number of applied session state transitions",
		}, []string{"protocol", "to"}),
		StaleTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcbridge_stale_transitions_total",
			Help: "Total number of compare-and-swap transition conflicts",
		}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcbridge_events_dropped_total",
			Help: "Total number of protocol events dropped as invalid for the current state",
		}, []string{"protocol", "event"}),
		Revocations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcbridge_revocations_total",
			Help: "Total number of credentials revoked by session",
		}),
		OrchestrationTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcbridge_orchestration_seconds",
			Help:    "Latency of orchestrator operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// IncSessionsCreated increments the sessions created counter.
func (m *Metrics) IncSessionsCreated(kind, protocol string) {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues(kind, protocol).Inc()
	m.ActiveSessions.Inc()
}

// IncSessionsCompleted records a session reaching a terminal state.
func (m *Metrics) IncSessionsCompleted(kind, state string) {
	if m == nil {
		return
	}
	m.SessionsCompleted.WithLabelValues(kind, state).Inc()
	m.ActiveSessions.Dec()
}

// IncTransition records an applied transition.
func (m *Metrics) IncTransition(protocol, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(protocol, to).Inc()
}

// IncStaleTransition records a lost compare-and-swap.
func (m *Metrics) IncStaleTransition() {
	if m == nil {
		return
	}
	m.StaleTransitions.Inc()
}

// IncEventDropped records a dropped protocol event.
func (m *Metrics) IncEventDropped(protocol, event string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(protocol, event).Inc()
}

// IncRevocations records a revocation by session.
func (m *Metrics) IncRevocations() {
	if m == nil {
		return
	}
	m.Revocations.Inc()
}

// IncSessionsSwept records a sweeper-forced timeout.
func (m *Metrics) IncSessionsSwept() {
	if m == nil {
		return
	}
	m.SessionsSwept.Inc()
	m.ActiveSessions.Dec()
}

// ObserveOrchestration records orchestrator operation latency.
func (m *Metrics) ObserveOrchestration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.OrchestrationTime.WithLabelValues(operation).Observe(seconds)
}
