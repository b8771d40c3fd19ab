package gossip

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// ConnectionsInbound is the total number of incoming stream
	// connections.
	ConnectionsInbound prometheus.Counter

	// StreamBytesInbound is the total number of read bytes via a stream
	// connection.
	StreamBytesInbound prometheus.Counter

	// PacketBytesInbound is the total number of read bytes via a packet
	// connection.
	PacketBytesInbound prometheus.Counter

	// ConnectionsOutbound is the total number of outgoing stream
	// connections.
	ConnectionsOutbound prometheus.Counter

	// StreamBytesOutbound is the total number of written bytes via a stream
	// connection.
	StreamBytesOutbound prometheus.Counter

	// PacketBytesOutbound is the total number of written bytes via a packet
	// connection.
	PacketBytesOutbound prometheus.Counter

	// PacketsDropped is the total number of inbound messages dropped,
	// labelled by reason.
	PacketsDropped *prometheus.CounterVec

	// Members is the number of known members labelled by health.
	Members *prometheus.GaugeVec

	// Rumors is the number of stored rumors labelled by kind.
	Rumors *prometheus.GaugeVec

	// RumorsInbound is the total number of received rumors labelled by kind
	// and whether the rumor changed the local state.
	RumorsInbound *prometheus.CounterVec

	// Probes is the total number of probe rounds labelled by result.
	Probes *prometheus.CounterVec

	// ProbeRTT is the round trip time of direct probes.
	ProbeRTT prometheus.Histogram

	// HealthTransitions is the total number of member health changes
	// labelled by the new health.
	HealthTransitions *prometheus.CounterVec

	// Refutations is the total number of times the local member refuted
	// suspicion of its health.
	Refutations prometheus.Counter

	// GossipRounds is the total number of gossip rounds initiated.
	GossipRounds prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		ConnectionsInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "connections_inbound_total",
				Help:      "Total number of incoming stream connections",
			},
		),
		StreamBytesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "stream_bytes_inbound_total",
				Help:      "Total number of read bytes via a stream connection",
			},
		),
		PacketBytesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "packet_bytes_inbound_total",
				Help:      "Total number of read bytes via a packet connection",
			},
		),
		ConnectionsOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "connections_outbound_total",
				Help:      "Total number of outbound stream connections",
			},
		),
		StreamBytesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "stream_bytes_outbound_total",
				Help:      "Total number of written bytes via a stream connection",
			},
		),
		PacketBytesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "packet_bytes_outbound_total",
				Help:      "Total number of written bytes via a packet connection",
			},
		),
		PacketsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "packets_dropped_total",
				Help:      "Total number of dropped inbound messages",
			},
			[]string{"reason"},
		),
		Members: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "members",
				Help:      "Number of known members",
			},
			[]string{"health"},
		),
		Rumors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "rumors",
				Help:      "Number of stored rumors",
			},
			[]string{"kind"},
		),
		RumorsInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "rumors_inbound_total",
				Help:      "Total number of received rumors",
			},
			[]string{"kind", "accepted"},
		),
		Probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "probes_total",
				Help:      "Total number of probe rounds",
			},
			[]string{"result"},
		),
		ProbeRTT: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "probe_rtt_seconds",
				Help:      "Round trip time of direct probes",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		HealthTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "health_transitions_total",
				Help:      "Total number of member health changes",
			},
			[]string{"health"},
		),
		Refutations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "refutations_total",
				Help:      "Total number of refuted suspicions of the local member",
			},
		),
		GossipRounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "gossip",
				Name:      "rounds_total",
				Help:      "Total number of gossip rounds",
			},
		),
	}
}

func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ConnectionsInbound,
		m.StreamBytesInbound,
		m.PacketBytesInbound,
		m.ConnectionsOutbound,
		m.StreamBytesOutbound,
		m.PacketBytesOutbound,
		m.PacketsDropped,
		m.Members,
		m.Rumors,
		m.RumorsInbound,
		m.Probes,
		m.ProbeRTT,
		m.HealthTransitions,
		m.Refutations,
		m.GossipRounds,
	)
}
