package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics holds Prometheus metrics for the channel registry and fan-out.
type RelayMetrics struct {
	ActiveChannels        prometheus.Gauge
	JoinedClients         prometheus.Gauge
	FramesBroadcast       prometheus.Counter
	BytesBroadcast        prometheus.Counter
	MembersEvicted        prometheus.Counter
	InitSegmentsFinalized *prometheus.CounterVec
	InitSegmentBytes      prometheus.Histogram
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_channels",
			Help:      "Number of channels with a connected transmitter.",
		}),
		JoinedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "joined_clients",
			Help:      "Number of clients currently joined to a channel.",
		}),
		FramesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_received_total",
			Help:      "Total number of binary frames received from transmitters.",
		}),
		BytesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "bytes_received_total",
			Help:      "Total number of payload bytes received from transmitters.",
		}),
		MembersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "members_evicted_total",
			Help:      "Total number of members evicted after a failed delivery.",
		}),
		InitSegmentsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "init_segments_finalized_total",
			Help:      "Total number of finalized initialization segments, by reason.",
		}, []string{"reason"}),
		InitSegmentBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "init_segment_bytes",
			Help:      "Size of finalized initialization segments in bytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}

	reg.MustRegister(
		m.ActiveChannels,
		m.JoinedClients,
		m.FramesBroadcast,
		m.BytesBroadcast,
		m.MembersEvicted,
		m.InitSegmentsFinalized,
		m.InitSegmentBytes,
	)
	return m
}
