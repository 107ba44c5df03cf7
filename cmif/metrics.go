package cmif

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hipc-systems/hipc-core/domain"
)

// Metrics groups the cmif counters. Dispatch does not record into them
// itself; callers report each dispatch through ObserveDispatch.
type Metrics struct {
	requestsDispatched *prometheus.CounterVec
	requestsErrored    *prometheus.CounterVec
	domainObjectsLive  prometheus.Gauge
}

// NewMetrics registers the cmif counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmif",
			Name:      "requests_dispatched_total",
			Help:      "Requests successfully dispatched, by cmd_id.",
		}, []string{"cmd_id"}),
		requestsErrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmif",
			Name:      "requests_errored_total",
			Help:      "Requests that returned an error, by cmd_id and error kind.",
		}, []string{"cmd_id", "kind"}),
		domainObjectsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cmif",
			Name:      "domain_objects_live",
			Help:      "Domain objects currently allocated across all domains.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requestsDispatched, m.requestsErrored, m.domainObjectsLive)
	}
	return m
}

func (m *Metrics) ObserveDispatch(cmd domain.CmdID, err error) {
	if m == nil {
		return
	}
	label := strconv.FormatUint(uint64(cmd), 10)
	if err == nil {
		m.requestsDispatched.WithLabelValues(label).Inc()
		return
	}
	kind, ok := domain.ErrorKind(err)
	kindLabel := "unknown"
	if ok {
		kindLabel = kind.String()
	}
	m.requestsErrored.WithLabelValues(label, kindLabel).Inc()
}

func (m *Metrics) SetDomainObjectsLive(n int) {
	if m == nil {
		return
	}
	m.domainObjectsLive.Set(float64(n))
}
