// Package metrics provides Prometheus instrumentation for the chat client
// core. It exposes a connectivity gauge, counters for reconnect attempts and
// event throughput, and a counter for rate-limited sends.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connected is 1 while the gateway transport is connected, 0 otherwise.
	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_connected",
		Help: "Whether the gateway transport is currently connected",
	})

	// ReconnectAttempts counts automatic reconnection attempts.
	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_reconnect_attempts_total",
		Help: "Total number of automatic reconnection attempts",
	})

	// EventsDispatched counts inbound gateway events routed through the
	// registry, labeled by event name.
	EventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_events_dispatched_total",
		Help: "Total number of inbound events dispatched to subscribers",
	}, []string{"event"})

	// EventsSent counts outbound frames written to the gateway, labeled by
	// event name.
	EventsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_events_sent_total",
		Help: "Total number of outbound frames sent to the gateway",
	}, []string{"event"})

	// MessagesSent counts chat messages successfully accepted by the REST
	// collaborator.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_messages_sent_total",
		Help: "Total number of chat messages accepted by the REST API",
	})

	// RateLimited counts sends rejected with a rate-limit response.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_rate_limited_total",
		Help: "Total number of sends rejected by rate limiting",
	})
)

func init() {
	prometheus.MustRegister(
		Connected,
		ReconnectAttempts,
		EventsDispatched,
		EventsSent,
		MessagesSent,
		RateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
