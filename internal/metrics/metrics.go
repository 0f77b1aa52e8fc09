// Package metrics holds the engine's Prometheus counters. Served on /metrics
// by the api service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamtalk_messages_sent_total",
		Help: "Messages accepted by the engine.",
	})

	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teamtalk_ws_events_broadcast_total",
		Help: "WebSocket events fanned out, by event type.",
	}, []string{"event"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamtalk_cache_hits_total",
		Help: "Cache lookups answered from Redis.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamtalk_cache_misses_total",
		Help: "Cache lookups that fell through to the entity store.",
	})

	IntentsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teamtalk_notify_intents_published_total",
		Help: "Notification intents published to the delivery queue.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teamtalk_ws_connections",
		Help: "Open WebSocket connections.",
	})
)
