package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// EventsReceivedTotal counts inbound gateway events pulled off NATS
	EventsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cs_bot_engine_events_received_total",
			Help: "Total number of inbound events received from the webhook relay.",
		},
	)
	// EventsProcessedTotal counts events that ran to completion, by outcome tag
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cs_bot_engine_events_processed_total",
			Help: "Total number of inbound events successfully processed, labeled by handled tag.",
		},
		[]string{"handled"},
	)
	// EventsFailedTotal counts events that ended in an error result
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cs_bot_engine_events_failed_total",
			Help: "Total number of inbound events that failed processing, labeled by error type.",
		},
		[]string{"error_type"},
	)
	// DuplicateEventsTotal counts redeliveries suppressed by the idempotency gate
	DuplicateEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cs_bot_engine_duplicate_events_total",
			Help: "Total number of duplicate inbound events suppressed by the idempotency gate.",
		},
	)
	// EventProcessingDurationSeconds observes end-to-end handle() latency
	EventProcessingDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cs_bot_engine_event_processing_duration_seconds",
			Help:    "Histogram of inbound event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)
	// DbOperationDurationSeconds observes repository operation latency
	DbOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cs_bot_engine_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "entity", "status"},
	)
	// GatewaySendsTotal counts outbound gateway attempts by kind and result
	GatewaySendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cs_bot_engine_gateway_sends_total",
			Help: "Total number of outbound gateway attempts, labeled by kind (send/forward) and status.",
		},
		[]string{"kind", "status"},
	)
	// TimeoutSweepUsersTotal counts users reverted to BOT by the sweeper
	TimeoutSweepUsersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cs_bot_engine_timeout_sweep_users_total",
			Help: "Total number of HUMAN users reverted to BOT by the timeout sweeper.",
		},
	)
	// RateLimitedTotal counts inbound messages dropped by the per-user limiter
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cs_bot_engine_rate_limited_total",
			Help: "Total number of inbound messages suppressed by the per-user rate limit.",
		},
	)
)

// InitMetrics enables or disables metric collection
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncEventsReceived increments the received counter
func IncEventsReceived() {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.Inc()
}

// IncEventsProcessed increments the processed counter for a handled tag
func IncEventsProcessed(handled string) {
	if !metricsEnabled {
		return
	}
	if handled == "" {
		handled = "none"
	}
	EventsProcessedTotal.WithLabelValues(handled).Inc()
}

// IncEventsFailed increments the failed counter for an error type
func IncEventsFailed(errorType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(SanitizeErrorType(errorType)).Inc()
}

// IncDuplicateEvents increments the duplicate counter
func IncDuplicateEvents() {
	if !metricsEnabled {
		return
	}
	DuplicateEventsTotal.Inc()
}

// ObserveEventProcessingDuration records one handle() latency sample
func ObserveEventProcessingDuration(d time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.Observe(d.Seconds())
}

// ObserveDbOperationDuration records one repository operation sample
func ObserveDbOperationDuration(operation, entity string, d time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DbOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(d.Seconds())
}

// IncGatewaySend records one outbound attempt
func IncGatewaySend(kind string, ok bool) {
	if !metricsEnabled {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	GatewaySendsTotal.WithLabelValues(kind, status).Inc()
}

// AddTimeoutSweepUsers records the affected count of one sweep pass
func AddTimeoutSweepUsers(count int64) {
	if !metricsEnabled || count <= 0 {
		return
	}
	TimeoutSweepUsersTotal.Add(float64(count))
}

// IncRateLimited increments the rate-limited counter
func IncRateLimited() {
	if !metricsEnabled {
		return
	}
	RateLimitedTotal.Inc()
}

// SanitizeErrorType reduces an arbitrary error string to a bounded label value
func SanitizeErrorType(errStr string) string {
	errStr = strings.ToLower(errStr)
	switch {
	case errStr == "":
		return "none"
	case strings.Contains(errStr, "validation"):
		return "validation"
	case strings.Contains(errStr, "database"):
		return "database"
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	default:
		return "internal"
	}
}
