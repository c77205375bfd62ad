package internal

import "github.com/prometheus/client_golang/prometheus"

// Reasons a received frame was discarded.
const (
	discardReasonDecompress = "decompress"
	discardReasonDecode     = "decode"
	discardReasonPayload    = "payload"
	discardReasonEncode     = "encode"
)

var (
	sandwichEventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_events_total",
			Help: "Sandwich Events",
		},
		[]string{"identifier"},
	)

	sandwichEventBufferCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandwich_events_buffered_count",
			Help: "Count of decoded messages waiting to be read by the consumer",
		},
		[]string{"identifier"},
	)

	sandwichDiscardedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_events_discarded_total",
			Help: "Count of discarded gateway events",
		},
		[]string{"identifier", "reason"},
	)

	sandwichDispatchEventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_dispatch_events_by_type_total",
			Help: "Sandwich Dispatch Events",
		},
		[]string{"identifier", "type"},
	)

	sandwichSentEventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_sent_events_total",
			Help: "Sandwich payloads written to the gateway",
		},
		[]string{"identifier", "op"},
	)

	sandwichShardStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandwich_shard_status",
			Help: "Sandwich Shard Status",
		},
		[]string{"identifier", "shard"},
	)

	sandwichRelayedEventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_relayed_events_total",
			Help: "Sandwich messages published to the producer",
		},
		[]string{"identifier"},
	)
)

func registerMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(sandwichEventCount)
	registerer.MustRegister(sandwichEventBufferCount)
	registerer.MustRegister(sandwichDiscardedEvents)
	registerer.MustRegister(sandwichDispatchEventCount)
	registerer.MustRegister(sandwichSentEventCount)
	registerer.MustRegister(sandwichShardStatus)
	registerer.MustRegister(sandwichRelayedEventCount)
}
