// Package metrics wires every counter, gauge, and histogram spec.md §6
// names in its observability boundary into a Prometheus registry. The
// HTTP /metrics endpoint itself is an external collaborator per spec.md's
// non-goals; this package only exposes a Registerer and an http.Handler
// for a caller to mount.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every named series from spec.md §6.
type Metrics struct {
	RxPackets *prometheus.CounterVec
	RxBytes   *prometheus.CounterVec
	RxDrops   *prometheus.CounterVec

	MergeDuplicates prometheus.Counter
	MergeGaps       prometheus.Counter
	MergeOOO        prometheus.Counter
	MergeFailovers  prometheus.Counter

	DecodePackets  prometheus.Counter
	DecodeMessages prometheus.Counter

	BookLiveOrders prometheus.Gauge

	QueueLength      *prometheus.GaugeVec
	QueueHighWater   *prometheus.GaugeVec

	EndToEndLatency prometheus.Histogram
	StageLatency    *prometheus.HistogramVec

	ClientCount    prometheus.Gauge
	OutBytes       prometheus.Counter
	OutFrames      prometheus.Counter
	DroppedClients prometheus.Counter
}

// New registers every series on reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RxPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obengine_rx_packets_total", Help: "Packets received per channel.",
		}, []string{"chan"}),
		RxBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obengine_rx_bytes_total", Help: "Bytes received per channel.",
		}, []string{"chan"}),
		RxDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obengine_rx_drops_total", Help: "Packets dropped at RX per channel (queue full).",
		}, []string{"chan"}),

		MergeDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_merge_duplicates_total", Help: "Duplicate sequence numbers observed by the arbiter.",
		}),
		MergeGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_merge_gaps_total", Help: "Unfillable gaps that triggered a recovery request.",
		}),
		MergeOOO: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_merge_out_of_order_total", Help: "Packets buffered in the reorder ring before forwarding.",
		}),
		MergeFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_merge_failovers_total", Help: "Preferred-channel switches.",
		}),

		DecodePackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_decode_packets_total", Help: "Packets decoded.",
		}),
		DecodeMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_decode_messages_total", Help: "Normalized events produced by decoders.",
		}),

		BookLiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obengine_book_live_orders", Help: "Live resting orders across all instruments.",
		}),

		QueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "obengine_queue_length", Help: "Current queue occupancy.",
		}, []string{"queue"}),
		QueueHighWater: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "obengine_queue_high_water", Help: "High-water mark of queue occupancy.",
		}, []string{"queue"}),

		EndToEndLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "obengine_end_to_end_latency_seconds",
			Help:    "RX to publish latency.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 3.16, 7), // ~100ns .. ~100us, matches the original's 1e-7..1e-4 range
		}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "obengine_stage_latency_seconds",
			Help:    "Per-stage latency (rx->merge, merge->decode).",
			Buckets: prometheus.ExponentialBuckets(1e-7, 3.16, 12),
		}, []string{"stage"}),

		ClientCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obengine_client_count", Help: "Connected WS/H3 clients.",
		}),
		OutBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_out_bytes_total", Help: "Bytes published to clients.",
		}),
		OutFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_out_frames_total", Help: "Frames published to clients.",
		}),
		DroppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obengine_dropped_clients_total", Help: "Clients disconnected for falling behind the publisher ring.",
		}),
	}

	reg.MustRegister(
		m.RxPackets, m.RxBytes, m.RxDrops,
		m.MergeDuplicates, m.MergeGaps, m.MergeOOO, m.MergeFailovers,
		m.DecodePackets, m.DecodeMessages,
		m.BookLiveOrders,
		m.QueueLength, m.QueueHighWater,
		m.EndToEndLatency, m.StageLatency,
		m.ClientCount, m.OutBytes, m.OutFrames, m.DroppedClients,
	)
	return m
}

// Handler returns the standard Prometheus scrape handler for reg. Mounting
// it on an HTTP server is left to the caller (cmd/obengine), per spec.md's
// observability-boundary non-goal.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
