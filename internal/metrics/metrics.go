package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Source fetch error categories (bounded set)
	FetchErrorTimeout     = "timeout"
	FetchErrorCircuitOpen = "circuit_open"
	FetchErrorHTTPStatus  = "http_status"
	FetchErrorParse       = "parse"
	FetchErrorNetwork     = "network"
	FetchErrorOther       = "other"

	// Message delivery failure reasons (bounded set)
	DeliveryFailureExpired    = "expired"
	DeliveryFailureMaxRetries = "max_retries"
	DeliveryFailureValidation = "validation"
	DeliveryFailureStorage    = "storage"
	DeliveryFailureOther      = "other"

	// Source check outcomes (bounded set)
	CheckOutcomeSuccess = "success"
	CheckOutcomeFailure = "failure"
	CheckOutcomeMuted   = "muted"
)

// NormalizeFetchError maps arbitrary fetch errors to bounded set
func NormalizeFetchError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return FetchErrorTimeout
	case strings.Contains(errStr, "circuit") || strings.Contains(errStr, "too many requests"):
		return FetchErrorCircuitOpen
	case strings.Contains(errStr, "status"):
		return FetchErrorHTTPStatus
	case strings.Contains(errStr, "parse") || strings.Contains(errStr, "decode") || strings.Contains(errStr, "unmarshal"):
		return FetchErrorParse
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "dns") || strings.Contains(errStr, "refused"):
		return FetchErrorNetwork
	default:
		return FetchErrorOther
	}
}

// NormalizeDeliveryFailure maps arbitrary delivery failures to bounded set
func NormalizeDeliveryFailure(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "expire"):
		return DeliveryFailureExpired
	case strings.Contains(lower, "retries") || strings.Contains(lower, "attempts"):
		return DeliveryFailureMaxRetries
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "required") || strings.Contains(lower, "schema"):
		return DeliveryFailureValidation
	case strings.Contains(lower, "database") || strings.Contains(lower, "storage") || strings.Contains(lower, "connection"):
		return DeliveryFailureStorage
	default:
		return DeliveryFailureOther
	}
}

// Regulatory Monitor Metrics
var (
	// Source checks by type and outcome
	SourceChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_source_checks_total",
		Help: "Total number of regulatory source checks by source type and outcome",
	}, []string{"source_type", "outcome"})

	// Source fetch duration
	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regulens_source_fetch_duration_ms",
		Help:    "Regulatory source fetch duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"source_type"})

	// Source fetch errors
	SourceFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_source_fetch_errors_total",
		Help: "Total number of source fetch errors by category",
	}, []string{"source_type", "error_type"})

	// New regulatory items detected
	ItemsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_regulatory_items_detected_total",
		Help: "Total number of new regulatory items detected by source type and severity",
	}, []string{"source_type", "severity"})

	// Duplicate items skipped
	DuplicateItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_regulatory_items_duplicate_total",
		Help: "Total number of regulatory items skipped as already ingested",
	})

	// Registered active sources
	ActiveSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_active_sources",
		Help: "Number of registered active regulatory sources",
	})

	// Sources muted by the failure ceiling
	MutedSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_muted_sources",
		Help: "Number of sources skipped due to consecutive failures at or above the ceiling",
	})

	// Circuit breaker state per source host (0 = closed, 1 = half-open, 2 = open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "regulens_source_circuit_breaker_state",
		Help: "Source fetch circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
	}, []string{"host"})

	// Circuit breaker trips
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_source_circuit_breaker_trips_total",
		Help: "Total number of source fetch circuit breaker trips",
	}, []string{"host"})
)

// Inter-Agent Messenger Metrics
var (
	// Messages sent by type
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_messages_sent_total",
		Help: "Total number of messages accepted for delivery by message type",
	}, []string{"message_type"})

	// Messages delivered
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_messages_delivered_total",
		Help: "Total number of messages marked delivered",
	})

	// Messages acknowledged
	MessagesAcknowledged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_messages_acknowledged_total",
		Help: "Total number of messages acknowledged by recipients",
	})

	// Messages failed
	MessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_messages_failed_total",
		Help: "Total number of messages moved to failed status by reason",
	}, []string{"reason"})

	// Messages expired
	MessagesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_messages_expired_total",
		Help: "Total number of messages expired by the cleanup sweep",
	})

	// Delivery retries
	DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_delivery_retries_total",
		Help: "Total number of message delivery retries",
	})

	// Delivery batch duration
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "regulens_delivery_batch_duration_ms",
		Help:    "Delivery worker batch processing duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	// Pending message backlog
	PendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_pending_messages",
		Help: "Number of messages currently pending delivery",
	})

	// Active conversations
	ActiveConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_active_conversations",
		Help: "Number of currently active conversations",
	})
)

// Consensus Engine Metrics
var (
	// Consensus processes initiated
	ConsensusInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_consensus_initiated_total",
		Help: "Total number of consensus processes initiated by algorithm",
	}, []string{"algorithm"})

	// Consensus processes completed
	ConsensusCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_consensus_completed_total",
		Help: "Total number of consensus processes completed by algorithm and outcome",
	}, []string{"algorithm", "outcome"})

	// Rounds used per consensus
	ConsensusRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "regulens_consensus_rounds",
		Help:    "Number of rounds used per completed consensus process",
		Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
	})

	// Consensus duration
	ConsensusDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "regulens_consensus_duration_ms",
		Help:    "Consensus process duration in milliseconds",
		Buckets: []float64{100, 500, 1000, 5000, 15000, 60000, 300000},
	})

	// Active consensus processes
	ActiveConsensus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_active_consensus",
		Help: "Number of consensus processes currently in memory",
	})

	// Conflict resolutions recorded
	ConsensusConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_consensus_conflict_resolutions_total",
		Help: "Total number of conflict resolutions recorded by strategy",
	}, []string{"strategy"})

	// Registered active agents
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_active_agents",
		Help: "Number of currently active registered agents",
	})
)

// Regulatory Simulator Metrics
var (
	// Simulations started
	SimulationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_simulations_started_total",
		Help: "Total number of simulation executions started",
	})

	// Simulations finished by status
	SimulationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_simulations_finished_total",
		Help: "Total number of simulation executions finished by status",
	}, []string{"status"})

	// Simulation duration
	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "regulens_simulation_duration_ms",
		Help:    "Simulation execution duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000},
	})

	// Rate limit rejections
	SimulationsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_simulations_rate_limited_total",
		Help: "Total number of simulation runs rejected by the rate limiter",
	})

	// Currently running simulations
	RunningSimulations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_running_simulations",
		Help: "Number of simulation executions currently running",
	})
)

// System Health Metrics
var (
	// Database connections
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regulens_database_connections_idle",
		Help: "Number of idle database connections",
	})

	// Database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regulens_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})

	// Errors
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})

	// NATS messages
	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulens_nats_messages_published_total",
		Help: "Total number of NATS event messages published",
	})

	// Redis operations
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulens_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})
)

// Helper functions to update metrics

// UpdateDatabaseConnections updates database connection metrics
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordSourceCheck records a source check with its fetch duration
func RecordSourceCheck(sourceType, outcome string, durationMs float64) {
	SourceChecks.WithLabelValues(sourceType, outcome).Inc()
	if outcome != CheckOutcomeMuted {
		SourceFetchDuration.WithLabelValues(sourceType).Observe(durationMs)
	}
}

// RecordFetchError records a categorized source fetch error
func RecordFetchError(sourceType string, err error) {
	SourceFetchErrors.WithLabelValues(sourceType, NormalizeFetchError(err)).Inc()
}

// RecordItemDetected records a newly ingested regulatory item
func RecordItemDetected(sourceType, severity string) {
	ItemsDetected.WithLabelValues(sourceType, severity).Inc()
}

// RecordMessageFailed records a message moved to failed status
func RecordMessageFailed(reason string) {
	MessagesFailed.WithLabelValues(NormalizeDeliveryFailure(reason)).Inc()
}

// RecordConsensusCompleted records a finished consensus process
func RecordConsensusCompleted(algorithm string, success bool, rounds int, durationMs float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	ConsensusCompleted.WithLabelValues(algorithm, outcome).Inc()
	ConsensusRounds.Observe(float64(rounds))
	ConsensusDuration.Observe(durationMs)
}

// RecordSimulationFinished records a finished simulation execution
func RecordSimulationFinished(status string, durationMs float64) {
	SimulationsFinished.WithLabelValues(status).Inc()
	SimulationDuration.Observe(durationMs)
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// SetCircuitBreakerState updates the breaker state gauge for a source host
func SetCircuitBreakerState(host, state string) {
	var v float64
	switch strings.ToLower(state) {
	case "open":
		v = 2
	case "half-open":
		v = 1
	default:
		v = 0
	}
	CircuitBreakerState.WithLabelValues(host).Set(v)
}
