package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "videoroom"

var (
	SubscriberFeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriber_feeds",
		Help:      "Subscriber feeds currently attached.",
	})

	StreamsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "streams_rejected_total",
		Help:      "Advertised streams left out of a subscription.",
	}, []string{"codec"})

	NegotiationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "negotiation_failures_total",
		Help:      "Subscriber feeds torn down by a negotiation failure.",
	}, []string{"stage"})

	AttachFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attach_failures_total",
		Help:      "Plugin attach failures.",
	})

	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Fan-out notifications dropped on a full consumer channel.",
	}, []string{"channel"})

	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_events_total",
		Help:      "Decoded gateway events by kind.",
	}, []string{"kind"})
)
