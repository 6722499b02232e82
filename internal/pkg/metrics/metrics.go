// Package metrics exposes Prometheus instruments for the chat subsystem.
// The registry is served on /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebsocketConnections tracks the number of live websocket connections.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mentora",
		Subsystem: "chat",
		Name:      "websocket_connections",
		Help:      "Number of currently open websocket connections.",
	})

	// OnlineUsers tracks distinct users with at least one live connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mentora",
		Subsystem: "chat",
		Name:      "online_users",
		Help:      "Number of distinct users currently online.",
	})

	// MessagesSent counts chat messages accepted by the service.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentora",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Total chat messages persisted, labelled by kind.",
	}, []string{"kind"})

	// EventsBroadcast counts realtime events pushed to clients.
	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentora",
		Subsystem: "chat",
		Name:      "events_broadcast_total",
		Help:      "Total realtime events broadcast, labelled by event name.",
	}, []string{"event"})

	// EventsDropped counts events discarded because a client send buffer was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mentora",
		Subsystem: "chat",
		Name:      "events_dropped_total",
		Help:      "Total realtime events dropped due to slow clients.",
	})
)
