// Package metrics provides Prometheus metrics for sessions, admissions and realtime fan-out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No session_id or student_id labels: cardinality stays bounded by kinds and outcomes.

var (
	// AdmissionTotal counts accepted check-ins by outcome (present, late, already_marked).
	AdmissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "admission_total",
		Help:      "Total number of accepted check-in attempts, by outcome.",
	}, []string{"outcome"})

	// AdmissionRejectTotal counts rejected check-ins by failure kind.
	AdmissionRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "admission_reject_total",
		Help:      "Total number of rejected check-in attempts, by kind.",
	}, []string{"kind"})

	// SessionTransitionTotal counts lifecycle transitions.
	SessionTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "session_transition_total",
		Help:      "Total number of session lifecycle transitions, by transition.",
	}, []string{"transition"})

	// LiveSessions tracks sessions currently held in the live store.
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "live_sessions",
		Help:      "Current number of sessions in the live store.",
	})

	// BroadcastDropTotal counts events dropped because a subscriber was not keeping up.
	BroadcastDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "broadcast_drop_total",
		Help:      "Total number of realtime events dropped on backpressure, by scope kind.",
	}, []string{"scope"})

	// HTTPThrottleTotal counts requests rejected by the per-IP limiter.
	HTTPThrottleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "http_throttle_total",
		Help:      "Total number of HTTP requests rejected by the per-IP limiter.",
	})
)

// RecordAdmit records an accepted check-in.
func RecordAdmit(outcome string) {
	AdmissionTotal.WithLabelValues(outcome).Inc()
}

// RecordReject records a rejected check-in.
func RecordReject(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	AdmissionRejectTotal.WithLabelValues(kind).Inc()
}

// RecordTransition records a session lifecycle transition.
func RecordTransition(transition string) {
	SessionTransitionTotal.WithLabelValues(transition).Inc()
}

// SetLiveSessions sets the live session gauge.
func SetLiveSessions(n int) {
	LiveSessions.Set(float64(n))
}

// IncBroadcastDrop records a dropped realtime event.
func IncBroadcastDrop(scopeKind string) {
	if scopeKind == "" {
		scopeKind = "unknown"
	}
	BroadcastDropTotal.WithLabelValues(scopeKind).Inc()
}
