// Package telemetry exposes Prometheus metrics for the progress pipeline.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_events_emitted_total",
			Help: "Progress events emitted to the broadcast channel and event log, labeled by status.",
		},
		[]string{"status"},
	)

	eventsThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_events_throttled_total",
			Help: "Progress updates suppressed by the significant-change threshold.",
		},
	)

	broadcastFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_broadcast_failures_total",
			Help: "Best-effort broadcast publishes that failed.",
		},
	)

	appendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_append_failures_total",
			Help: "Durable event log appends that failed.",
		},
	)

	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Currently open WebSocket connections.",
		},
	)

	connectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_connections_rejected_total",
			Help: "Connections rejected during the handshake, labeled by reason.",
		},
		[]string{"reason"},
	)

	messagesForwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_messages_forwarded_total",
			Help: "Broadcast messages forwarded to connected clients.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)
)

// ObserveEventEmitted counts one emitted event by status.
func ObserveEventEmitted(status string) {
	eventsEmittedTotal.WithLabelValues(status).Inc()
}

// ObserveEventThrottled counts one suppressed update.
func ObserveEventThrottled() {
	eventsThrottledTotal.Inc()
}

// ObserveBroadcastFailure counts one failed best-effort publish.
func ObserveBroadcastFailure() {
	broadcastFailuresTotal.Inc()
}

// ObserveAppendFailure counts one failed durable append.
func ObserveAppendFailure() {
	appendFailuresTotal.Inc()
}

// ConnectionOpened and ConnectionClosed track the live connection gauge.
func ConnectionOpened() { connectionsActive.Inc() }

// ConnectionClosed decrements the live connection gauge.
func ConnectionClosed() { connectionsActive.Dec() }

// ObserveConnectionRejected counts a handshake rejection by reason.
func ObserveConnectionRejected(reason string) {
	connectionsRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveMessageForwarded counts one message delivered to a client socket.
func ObserveMessageForwarded() {
	messagesForwardedTotal.Inc()
}

// ObserveHTTPRequest records count and latency for one HTTP request.
func ObserveHTTPRequest(method, route string, status int, dur time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(dur.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
