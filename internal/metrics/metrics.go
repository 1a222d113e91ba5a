// Package metrics exposes Prometheus collectors for the heatmap engine.
// Collectors register themselves with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lazypower/heatmap/internal/graph"
)

// Event results for EventsTotal.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultIgnored  = "ignored"
	ResultLimited  = "rate_limited"
)

var (
	Nodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heatmap_nodes",
		Help: "Nodes currently in the graph",
	})
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heatmap_connections",
		Help: "Connections currently in the graph",
	})
	ActiveNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heatmap_active_nodes",
		Help: "Nodes with intensity above 50",
	})
	TotalVolume = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heatmap_total_volume",
		Help: "Sum of magnitudes of live nodes",
	})
	PeakActivity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heatmap_peak_activity",
		Help: "Highest node intensity",
	})
	NetworkDensity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heatmap_network_density",
		Help: "Connections per node, times 100",
	})

	// EventsTotal counts inbound messages by outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_events_total",
			Help: "Inbound messages by result",
		},
		[]string{"result"},
	)

	// EvictionsTotal counts nodes and connections removed, by reason.
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_evictions_total",
			Help: "Graph elements evicted, by reason",
		},
		[]string{"reason"},
	)

	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heatmap_frames_total",
		Help: "Frames rendered",
	})

	FrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "heatmap_frame_duration_seconds",
		Help:    "Time spent drawing one frame",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	EventLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "heatmap_event_lag_seconds",
		Help:    "Delay between the producer timestamp and insertion, for events that carry one",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_http_requests_total",
			Help: "HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveStats copies a stats reading into the gauges.
func ObserveStats(st graph.Stats) {
	Nodes.Set(float64(st.NodeCount))
	Connections.Set(float64(st.ConnectionCount))
	ActiveNodes.Set(float64(st.ActiveNodes))
	TotalVolume.Set(st.TotalVolume)
	PeakActivity.Set(st.PeakActivity)
	NetworkDensity.Set(st.NetworkDensity)
}

// Evicted records n elements removed for reason.
func Evicted(reason graph.EvictReason, n int) {
	EvictionsTotal.WithLabelValues(string(reason)).Add(float64(n))
}
