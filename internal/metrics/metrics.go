// Package metrics exports the Prometheus collectors for the event
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "customer_agent",
		Name:      "events_received_total",
		Help:      "Decoded websocket events by kind.",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "customer_agent",
		Name:      "events_dropped_total",
		Help:      "Events dropped by the routing policy.",
	})

	RepliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "customer_agent",
		Name:      "replies_sent_total",
		Help:      "Outbound replies delivered to buyers.",
	})

	HandlerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "customer_agent",
		Name:      "handler_failures_total",
		Help:      "Handler chain invocations that returned an error.",
	})

	ActiveDispatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "customer_agent",
		Name:      "active_dispatchers",
		Help:      "Per-user dispatchers currently registered.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "customer_agent",
		Name:      "active_sessions",
		Help:      "Accounts with a live websocket session.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "customer_agent",
		Name:      "queue_depth",
		Help:      "Buffered events per account queue.",
	}, []string{"shop_id", "user_id"})
)
