package pm

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters exercised by Tracker.
type Metrics struct {
	processesFreed prometheus.Counter
	liveGauge      prometheus.Gauge
	exitingGauge   prometheus.Gauge
}

// NewMetrics registers the pm counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pm",
			Name:      "processes_freed_total",
			Help:      "Tracked processes freed after reaching Terminated.",
		}),
		liveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pm",
			Name:      "live_processes",
			Help:      "Processes currently on the live list.",
		}),
		exitingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pm",
			Name:      "exiting_processes",
			Help:      "Processes currently on the exiting list awaiting drain.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processesFreed, m.liveGauge, m.exitingGauge)
	}
	return m
}

func (m *Metrics) ObserveProcessFreed() {
	if m == nil {
		return
	}
	m.processesFreed.Inc()
}

func (m *Metrics) SetLiveCount(n int) {
	if m == nil {
		return
	}
	m.liveGauge.Set(float64(n))
}

func (m *Metrics) SetExitingCount(n int) {
	if m == nil {
		return
	}
	m.exitingGauge.Set(float64(n))
}
