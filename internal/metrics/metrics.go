package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwire_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomwire_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomwire_connections_active",
			Help: "Live websocket connections on this node",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomwire_events_dropped_total",
			Help: "Events dropped because a client buffer was full",
		},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwire_inbound_events_total",
			Help: "Inbound websocket events by outcome",
		},
		[]string{"event", "outcome"}, // outcome: "ok" or "error"
	)

	// Business metrics
	RoomResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwire_room_resolutions_total",
			Help: "Room lookups by result",
		},
		[]string{"type", "result"}, // result: "found" or "created"
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomwire_messages_sent_total",
			Help: "Total messages persisted",
		},
	)

	FanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwire_fanout_deliveries_total",
			Help: "Real-time deliveries by kind",
		},
		[]string{"kind"}, // "broadcast" or "notify"
	)

	FanoutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwire_fanout_failures_total",
			Help: "Real-time deliveries that failed",
		},
		[]string{"kind"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwire_status_transitions_total",
			Help: "Messages moved to a new delivery status",
		},
		[]string{"status"},
	)

	// Infrastructure metrics
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwire_relay_messages_total",
			Help: "Events relayed through Redis pub/sub",
		},
		[]string{"direction"}, // "published" or "received"
	)
)
