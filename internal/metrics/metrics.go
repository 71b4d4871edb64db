package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message pipeline
var (
	MessagesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_submitted_total",
			Help: "Messages accepted by the ingress coordinator, by outcome.",
		},
		[]string{"outcome"}, // accepted, invalid, distribution_unavailable
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_errors_total",
			Help: "Failed store operations.",
		},
		[]string{"op"},
	)

	PublishAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_distribution_publish_attempts_total",
			Help: "Transport publish attempts, by result.",
		},
		[]string{"result"}, // acked, submit_failed, ack_failed
	)

	MessagesLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_distribution_lost_total",
		Help: "Messages dropped after the retry budget was exhausted.",
	})

	PublishLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_distribution_publish_seconds",
		Help:    "Time from Publish to the final delivery report.",
		Buckets: prometheus.DefBuckets,
	})

	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_distribution_consumed_total",
			Help: "Records received from the transport, by outcome.",
		},
		[]string{"outcome"}, // delivered, self_echo, decode_error, missing_id, store_error, fanout_error
	)
)

// Fan-out
var (
	FanoutPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_published_total",
			Help: "Payloads published to local fan-out channels.",
		},
		[]string{"driver"},
	)

	FanoutDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_dropped_total",
			Help: "Payloads dropped because a subscriber buffer was full.",
		},
		[]string{"driver"},
	)
)

// Presence and connections
var (
	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Presence updates written and broadcast.",
		},
		[]string{"state"}, // online, offline
	)

	SessionBindings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_session_bindings",
		Help: "Live connection to identity bindings on this instance.",
	})

	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_websocket_connections",
		Help: "Open websocket connections.",
	})

	HistoryCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_history_cache_total",
			Help: "History page cache lookups, by result.",
		},
		[]string{"result"}, // hit, miss
	)
)
