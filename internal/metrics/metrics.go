package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_server_connections_active",
		Help: "Number of admitted websocket connections",
	})

	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_server_connections_total",
		Help: "Total number of admitted websocket connections",
	})

	ConnectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_server_connection_rejected_total",
		Help: "Total number of connections rejected before upgrade",
	}, []string{"reason"})

	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_server_sessions_active",
		Help: "Number of logged in players",
	})

	// Message processing
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_server_messages_processed_total",
		Help: "Total number of dispatched messages",
	}, []string{"type"})

	MessageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_server_message_errors_total",
		Help: "Total number of ERROR responses by code",
	}, []string{"code"})

	MessageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "game_server_message_latency_seconds",
		Help:    "Time from first frame to dispatch completion",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	}, []string{"type"})

	SlowMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_server_slow_messages_total",
		Help: "Messages whose processing exceeded the latency threshold",
	})

	// Locking
	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "game_server_lock_wait_seconds",
		Help:    "Time spent waiting for player locks",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"kind"})

	Gifts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_server_gifts_total",
		Help: "Gift attempts by result code",
	}, []string{"result"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_server_notifications_dropped_total",
		Help: "Push notifications that failed to send",
	})

	// Events
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_server_events_published_total",
		Help: "Domain events published by result",
	}, []string{"result"})

	EventsBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_server_events_breaker_state",
		Help: "Event publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	ConfigReloadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_server_config_reload_errors_total",
		Help: "Total number of configuration reload errors",
	})
)

// IncConnectionRejected increments the connection rejected counter
func IncConnectionRejected(reason string) {
	ConnectionRejected.WithLabelValues(reason).Inc()
}
