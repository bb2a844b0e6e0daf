package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway's Prometheus instruments, registered against
// an injected registerer so tests can use isolated registries.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsOpened prometheus.Counter

	EventsReceived *prometheus.CounterVec
	EventsDropped  prometheus.Counter

	FanoutDelivered prometheus.Counter
	FanoutDropped   prometheus.Counter
}

// NewMetrics registers and returns the realtime metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "connexa",
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Currently active websocket connections.",
		}),
		ConnectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "connexa",
			Subsystem: "ws",
			Name:      "connections_opened_total",
			Help:      "Total websocket connections that reached the Active state.",
		}),
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connexa",
			Subsystem: "ws",
			Name:      "events_received_total",
			Help:      "Inbound events dispatched to a handler, by event type.",
		}, []string{"type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "connexa",
			Subsystem: "ws",
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped because their type is unknown.",
		}),
		FanoutDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "connexa",
			Subsystem: "ws",
			Name:      "fanout_delivered_total",
			Help:      "Outbound events enqueued to recipient connections.",
		}),
		FanoutDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "connexa",
			Subsystem: "ws",
			Name:      "fanout_dropped_total",
			Help:      "Outbound events dropped due to backpressure or closing recipients.",
		}),
	}
}
