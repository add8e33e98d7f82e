// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connected_clients",
			Help: "Currently connected WebSocket clients",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Rejected connection attempts",
		},
		[]string{"reason"}, // "unauthenticated" or "invalid_credential"
	)

	DroppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_dropped_clients_total",
			Help: "Clients removed because their send queue was full",
		},
	)

	// Message pipeline metrics
	MessagesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_messages_accepted_total",
			Help: "Chat messages accepted and broadcast",
		},
	)

	MessagesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_suppressed_total",
			Help: "Chat messages suppressed by policy",
		},
		[]string{"reason"}, // "rate_limited", "link_rejected", "invalid"
	)

	EventsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_events_emitted_total",
			Help: "Events injected through the bridge endpoint",
		},
	)

	// Persistence metrics
	PersistenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_persistence_writes_total",
			Help: "Persistence mirror writes by result",
		},
		[]string{"result"}, // "ok" or "error"
	)

	PersistenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_persistence_latency_seconds",
			Help:    "Persistence mirror write latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	HistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_history_messages",
			Help: "Messages currently held in the history buffer",
		},
	)
)
