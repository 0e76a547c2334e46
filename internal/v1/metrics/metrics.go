// Package metrics declares the Prometheus collectors shared across the
// dialogue core. They live in their own package, rather than next to the
// code that updates them, to avoid a dependency cycle between room,
// history, bus and ratelimit.
//
// Naming convention: namespace_subsystem_name
//   - namespace: dialogue (application-level grouping)
//   - subsystem: room, history, rate_limit, circuit_breaker, connection
//   - name: specific metric
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of live transport
	// connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dialogue",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Current number of active transport connections",
	})

	// ActiveRooms tracks the current number of registered rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dialogue",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the current participant count of each room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialogue",
		Subsystem: "room",
		Name:      "participants",
		Help:      "Current number of participants in each room",
	}, []string{"room_id"})

	// EventsTriggered tracks the total number of events successfully
	// routed through a room's trigger pipeline.
	EventsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "room",
		Name:      "events_triggered_total",
		Help:      "Total events successfully triggered, per room and event name",
	}, []string{"room_id", "event"})

	// HistoryEvictions tracks the total number of history entries evicted
	// from a room's in-memory buffer.
	HistoryEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "history",
		Name:      "evictions_total",
		Help:      "Total history entries evicted from the in-memory buffer, per room and event name",
	}, []string{"room_id", "event"})

	// CircuitBreakerState tracks the current state of a named circuit
	// breaker. 0: Closed, 1: Open, 2: Half-Open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialogue",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected
	// by a named circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests (HTTP requests
	// and dialogue:getHistory verbs) that exceeded a rate limit, per
	// endpoint label.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total HTTP and history requests that exceeded the rate limit",
	}, []string{"endpoint"})

	// RateLimitRequests tracks the total number of requests (HTTP requests
	// and dialogue:getHistory verbs) allowed through a rate limiter, per
	// endpoint label.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total HTTP and history requests allowed by the rate limiter",
	}, []string{"endpoint"})

	// TriggerDuration tracks the time spent running a room's trigger
	// pipeline, excluding fire-and-forget handler/hook dispatch.
	TriggerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dialogue",
		Subsystem: "room",
		Name:      "trigger_duration_seconds",
		Help:      "Time spent running the synchronous portion of the trigger pipeline",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"event"})
)

// IncConnection records a new transport connection.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a closed transport connection.
func DecConnection() {
	ActiveConnections.Dec()
}
