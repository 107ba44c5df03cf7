package htclow

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters exercised by Mux and Manager.
type Metrics struct {
	packetsSent      *prometheus.CounterVec
	packetsReceived  *prometheus.CounterVec
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	controlTransitions *prometheus.CounterVec
}

// NewMetrics registers the htclow counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "htclow",
			Name:      "packets_sent_total",
			Help:      "Packets sent by type.",
		}, []string{"type"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "htclow",
			Name:      "packets_received_total",
			Help:      "Packets received by type.",
		}, []string{"type"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "htclow",
			Name:      "bytes_sent_total",
			Help:      "Data bytes sent across all channels.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "htclow",
			Name:      "bytes_received_total",
			Help:      "Data bytes received across all channels.",
		}),
		controlTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "htclow",
			Name:      "control_transitions_total",
			Help:      "Control state machine transitions by destination state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.packetsSent, m.packetsReceived, m.bytesSent, m.bytesReceived, m.controlTransitions)
	}
	return m
}
