package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide counters. Served on /metrics via promhttp.
var (
	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Name:      "connected_sessions",
		Help:      "Number of authenticated live sessions.",
	})

	FramesIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "frames_in_total",
		Help:      "Inbound wire frames decoded, including rejected ones.",
	})

	FramesOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "frames_out_total",
		Help:      "Outbound wire frames written to sockets.",
	})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "decode_errors_total",
		Help:      "Inbound frames dropped because they could not be decoded.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "events_dropped_total",
		Help:      "Delivery events dropped because a session channel was full.",
	})

	StoreTxns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "store_transactions_total",
		Help:      "Committed store write transactions by operation.",
	}, []string{"op"})

	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "store_errors_total",
		Help:      "Storage engine errors surfaced to callers.",
	})
)
