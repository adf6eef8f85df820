package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// ActiveHubs tracks session hubs currently resident in this process
	ActiveHubs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ama_hub_active_hubs",
			Help: "Number of session hubs resident in this process",
		},
	)

	// HubEvictionsTotal counts idle hubs released by the router janitor
	HubEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ama_hub_evictions_total",
			Help: "Total idle session hubs evicted",
		},
	)

	// ConnectedClients tracks live connections by transport
	ConnectedClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ama_hub_connected_clients",
			Help: "Live connections across all hubs by transport",
		},
		[]string{"transport"},
	)

	// BroadcastsTotal counts broadcast requests by outcome
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ama_hub_broadcasts_total",
			Help: "Total broadcast requests by event type",
		},
		[]string{"event_type"},
	)

	// BroadcastDeliveriesTotal counts frames handed to connections
	BroadcastDeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ama_hub_broadcast_deliveries_total",
			Help: "Total event frames delivered to connections",
		},
	)

	// BroadcastSendFailuresTotal counts sends skipped because the transport was gone
	BroadcastSendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ama_hub_broadcast_send_failures_total",
			Help: "Total event frames skipped because the connection was already closed",
		},
	)

	// BroadcastDuration tracks fan-out latency per broadcast
	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ama_hub_broadcast_duration_seconds",
			Help:    "Time to hand one event to every live connection of a hub",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// HeartbeatsTotal counts ping frames answered with pong
	HeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ama_hub_heartbeats_total",
			Help: "Total client ping frames answered",
		},
	)

	// MalformedFramesTotal counts inbound frames dropped during parsing
	MalformedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ama_hub_malformed_frames_total",
			Help: "Total inbound frames dropped because they could not be parsed",
		},
	)
)

// Cluster Bus Metrics
var (
	// BusPublishedTotal counts envelopes published to the cross-process bus
	BusPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ama_bus_published_total",
			Help: "Total envelopes published to the session bus by status",
		},
		[]string{"status"},
	)

	// BusReceivedTotal counts envelopes received from the cross-process bus
	BusReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ama_bus_received_total",
			Help: "Total envelopes received from the session bus",
		},
	)
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ama_redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ama_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks failed dials to Redis
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ama_redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)
)
