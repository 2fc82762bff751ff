package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"content_type"},
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_read_total",
			Help: "Total messages transitioned to read",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_deleted_total",
			Help: "Total messages soft-deleted",
		},
	)

	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	ReactionsToggled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_reactions_toggled_total",
			Help: "Total reaction toggles",
		},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_search_queries_total",
			Help: "Total search queries",
		},
	)

	// Counter-repair metrics
	UnreadRecomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_unread_recomputes_total",
			Help: "Total unread-counter reconciliation runs",
		},
	)

	UnreadDriftDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_unread_drift_detected_total",
			Help: "Reconciliation runs that found counter drift",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
