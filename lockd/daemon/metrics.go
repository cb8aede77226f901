package daemon

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the daemon's exported counters and gauges (spec §9's
// supplemented observability, since the original daemon only exposes state
// through dump_info text — this core additionally exposes it as
// Prometheus series, grounded on the pack's prometheus/client_golang
// usage).
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	lockspacesActive prometheus.Gauge
}

// NewMetrics builds and registers a Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lvmlockd",
			Name:      "requests_total",
			Help:      "Total lock requests processed, by operation.",
		}, []string{"op"}),
		lockspacesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lvmlockd",
			Name:      "lockspaces_active",
			Help:      "Number of lockspaces currently joined.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.lockspacesActive)
	return m
}

// NewUnregisteredMetrics builds a Metrics set registered against a fresh
// private registry instead of the default one, for tests that construct
// multiple daemons.
func NewUnregisteredMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
