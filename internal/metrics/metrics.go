package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaborative code editor backend.
//
// Naming convention: namespace_subsystem_name
// - namespace: code_editor (application-level grouping)
// - subsystem: websocket, room, ot, execution, circuit_breaker, rate_limit, redis, sandbox
// - name: specific metric (connections_active, events_total, etc.)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "code_editor",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "code_editor",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "code_editor",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "code_editor",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	EditsTransformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "ot",
		Name:      "edits_transformed_total",
		Help:      "Total number of operation batches transformed by the OT engine",
	}, []string{"room_id"})

	InvalidEditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "ot",
		Name:      "invalid_edits_total",
		Help:      "Total number of edits rejected as invalid and resynced",
	}, []string{"room_id"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "execution",
		Name:      "jobs_total",
		Help:      "Total number of code execution jobs submitted",
	}, []string{"language", "status"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "code_editor",
		Subsystem: "execution",
		Name:      "duration_seconds",
		Help:      "Duration of the run phase of code execution jobs",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 20, 45, 60},
	}, []string{"language"})

	ExecutionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "code_editor",
		Subsystem: "execution",
		Name:      "queue_depth",
		Help:      "Current number of jobs waiting in the execution queue",
	})

	ExecutionDeadLetterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "execution",
		Name:      "dead_letter_total",
		Help:      "Total number of jobs moved to the dead-letter queue",
	}, []string{"language"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "code_editor",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"bucket", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"bucket"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "code_editor",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "code_editor",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	SandboxContainersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "code_editor",
		Subsystem: "sandbox",
		Name:      "containers_active",
		Help:      "Current number of sandbox containers running",
	})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
