package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts ticket state machine commands by action and result (applied|noop|rejected).
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketdesk_ticket_transitions_total",
			Help: "Total number of ticket transition attempts",
		},
		[]string{"action", "result"},
	)

	// FeedEvents counts domain events published on the change feed by table and operation.
	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketdesk_changefeed_events_total",
			Help: "Total number of change feed events published",
		},
		[]string{"table", "operation"},
	)

	// FeedDeliveries counts callback invocations performed by the change feed.
	FeedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketdesk_changefeed_deliveries_total",
			Help: "Total number of change feed deliveries to subscribers",
		},
	)

	// FeedSubscriptions tracks live change feed subscriptions.
	FeedSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketdesk_changefeed_subscriptions",
			Help: "Number of active change feed subscriptions",
		},
	)

	// FeedInterruptions counts observation link drops between the feed and the record store.
	FeedInterruptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketdesk_changefeed_interruptions_total",
			Help: "Total number of change feed source interruptions",
		},
		[]string{"source"},
	)

	// PushDeliveries counts web push sends by result (sent|gone|failed|dropped).
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketdesk_push_deliveries_total",
			Help: "Total number of push delivery attempts",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketdesk_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RealtimeConnections tracks open websocket connections held by the realtime hub.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketdesk_realtime_connections",
			Help: "Number of open realtime websocket connections",
		},
	)

	// PanicsRecovered counts handler panics converted into 500 responses, by route template.
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketdesk_http_panics_total",
			Help: "Total number of recovered HTTP handler panics",
		},
		[]string{"path"},
	)
)
