package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the push-to-talk signaling service.
//
// Naming convention: namespace_subsystem_name
// - namespace: ptt_signal (application-level grouping)
// - subsystem: session, room, relay, floor, push, circuit_breaker, rate_limit, redis
// - name: specific metric (connections_active, grants_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, held floors)
// - Counter: Cumulative events (messages processed, floor grants/denials)
// - Histogram: Latency distributions (processing time, hold duration)

var (
	// ActiveSessions tracks the current number of running WebSocket sessions,
	// counted from the start of Session.Run, before authentication.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ptt_signal",
		Subsystem: "session",
		Name:      "connections_active",
		Help:      "Current number of active signaling sessions",
	})

	// ActiveRooms tracks the current number of non-empty rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ptt_signal",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ptt_signal",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// WireEvents tracks the total number of wire messages processed, by type and outcome.
	WireEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Total wire messages processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing a wire message.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ptt_signal",
		Subsystem: "session",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing a wire message",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// RelayAttempts tracks SDP/ICE relay frames forwarded, by outcome.
	RelayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "relay",
		Name:      "attempts_total",
		Help:      "Total relay frames forwarded between sessions",
	}, []string{"status"})

	// FloorGrants tracks floor requests that were granted.
	FloorGrants = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "floor",
		Name:      "grants_total",
		Help:      "Total floor requests granted",
	})

	// FloorDenials tracks floor requests that were denied, by reason.
	FloorDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "floor",
		Name:      "denials_total",
		Help:      "Total floor requests denied",
	}, []string{"reason"})

	// FloorReleases tracks floor releases, by cause.
	FloorReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "floor",
		Name:      "releases_total",
		Help:      "Total floor releases",
	}, []string{"cause"})

	// FloorHeld tracks whether a room currently has a held floor (1) or is free (0).
	FloorHeld = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ptt_signal",
		Subsystem: "floor",
		Name:      "held",
		Help:      "Whether a room's floor is currently held",
	}, []string{"room_id"})

	// FloorHoldDuration tracks how long a floor was held before release.
	FloorHoldDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ptt_signal",
		Subsystem: "floor",
		Name:      "hold_duration_seconds",
		Help:      "Duration a floor was held before being released",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// PushNotificationsSent tracks push notifications dispatched, by kind and status.
	PushNotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "push",
		Name:      "notifications_total",
		Help:      "Total push notifications dispatched",
	}, []string{"kind", "status"})

	// CircuitBreakerState tracks the current state of the circuit breaker (GaugeVec)
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ptt_signal",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations (CounterVec)
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt_signal",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations (HistogramVec)
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ptt_signal",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}
