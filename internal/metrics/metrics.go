// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime connection metrics
var (
	RealtimeConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deskline_realtime_connection_state",
			Help: "Current realtime connection state per transport (1 for the active state, 0 otherwise)",
		},
		[]string{"transport", "state"},
	)

	RealtimeConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_realtime_connect_attempts_total",
			Help: "Total number of realtime connect attempts by outcome",
		},
		[]string{"transport", "outcome"}, // "success", "failure", "unauthorized"
	)

	RealtimeGiveUps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_realtime_give_ups_total",
			Help: "Number of times the reconnection controller stopped retrying",
		},
		[]string{"transport", "reason"}, // "max_attempts", "unauthorized"
	)

	RealtimeBackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskline_realtime_backoff_seconds",
			Help:    "Backoff delays scheduled between reconnect attempts",
			Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 16, 30, 60},
		},
		[]string{"transport"},
	)

	RealtimeFramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_realtime_frames_received_total",
			Help: "Inbound realtime frames by type",
		},
		[]string{"type"},
	)

	RealtimeFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_realtime_frames_dropped_total",
			Help: "Inbound realtime frames dropped before reaching the application",
		},
		[]string{"reason"}, // "decode", "unknown_type", "unmapped_room", "echo"
	)

	RealtimeFramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_realtime_frames_sent_total",
			Help: "Outbound realtime frames written to the socket by type",
		},
		[]string{"type"},
	)

	RealtimeSendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskline_realtime_send_errors_total",
			Help: "Outbound realtime frames that failed to serialize or write",
		},
	)

	RealtimeOutboundQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskline_realtime_outbound_queue_depth",
			Help: "Frames waiting in outbound queues",
		},
	)

	RealtimePendingSends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskline_realtime_pending_sends",
			Help: "Message ids awaiting their realtime echo",
		},
	)
)

// Backend HTTP API metrics
var (
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskline_backend_request_duration_seconds",
			Help:    "Backend API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30},
		},
		[]string{"endpoint"},
	)

	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_backend_requests_total",
			Help: "Backend API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // "success", "http_error", "transport_error", "rejected"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deskline_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// Local store and event bus metrics
var (
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskline_store_operation_duration_seconds",
			Help:    "Local chat store operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_store_errors_total",
			Help: "Local chat store errors",
		},
		[]string{"operation"},
	)

	EventBusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_eventbus_published_total",
			Help: "Realtime events mirrored to NATS by outcome",
		},
		[]string{"outcome"},
	)
)

// Local HTTP API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskline_api_request_duration_seconds",
			Help:    "Local API request duration by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_api_requests_total",
			Help: "Local API requests by route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)
)

// connectionStates lists the label values RecordConnectionState toggles.
var connectionStates = []string{
	"disconnected", "connecting", "connected", "reconnecting",
	"no_service", "no_room", "failed", "unknown",
}

// RecordConnectionState marks state as the only active state for transport.
func RecordConnectionState(transport, state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		RealtimeConnectionState.WithLabelValues(transport, s).Set(v)
	}
}

// ObserveBackend records one backend request.
func ObserveBackend(endpoint, outcome string, started time.Time) {
	BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
	BackendRequests.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveStore records the duration of a store operation and counts failures.
func ObserveStore(operation string, started time.Time, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(operation).Inc()
	}
}
