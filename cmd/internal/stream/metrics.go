package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes engine counters for scraping. One Metrics instance is
// shared by the subscription, pager, and orchestrator of a session.
type Metrics struct {
	Reconnects      prometheus.Counter
	EventsMerged    prometheus.Counter
	EventsDuplicate prometheus.Counter
	EventsDropped   prometheus.Counter
	PagesLoaded     prometheus.Counter
	ConnState       prometheus.Gauge
}

// NewMetrics registers the engine metrics on reg. A nil reg gets a private
// registry so sessions in tests never collide on metric names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ripple", Subsystem: "stream", Name: "reconnects_total",
			Help: "Push connection reconnect attempts.",
		}),
		EventsMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ripple", Subsystem: "stream", Name: "events_merged_total",
			Help: "Push events merged into the ordered collection.",
		}),
		EventsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ripple", Subsystem: "stream", Name: "events_duplicate_total",
			Help: "Push events absorbed by dedup.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ripple", Subsystem: "stream", Name: "events_dropped_total",
			Help: "Malformed push events dropped before merge.",
		}),
		PagesLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ripple", Subsystem: "stream", Name: "history_pages_total",
			Help: "History pages fetched.",
		}),
		ConnState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ripple", Subsystem: "stream", Name: "connection_state",
			Help: "Current push connection state (0 closed, 1 connecting, 2 open, 3 reconnecting, 4 disconnected).",
		}),
	}
}
