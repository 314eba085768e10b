package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fleetmpc/atomic_float"
)

// Metrics holds the fleet's Prometheus collectors, registered against a
// caller-supplied registry so tests can use a private one instead of the
// global default.
type Metrics struct {
	TickDuration    prometheus.Histogram
	BarrierTimeouts prometheus.Counter
	RegisteredRobots prometheus.Gauge
	PeerVectorPacks prometheus.Counter

	// lastTickSeconds backs LastTickSeconds: a status-endpoint read path
	// that shouldn't have to go through the Prometheus registry just to
	// report one number, so it's a lock-free value instead.
	lastTickSeconds *atomic_float.AtomicFloat64
}

// NewMetrics constructs and registers the fleet's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_tick_duration_seconds",
			Help:    "Wall-clock duration of one tick barrier, from COMPUTE_REQUEST dispatch to barrier release.",
			Buckets: prometheus.DefBuckets,
		}),
		BarrierTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleet_tick_barrier_timeouts_total",
			Help: "Number of ticks that hit the per-tick deadline before every robot replied STEP_COMPLETE.",
		}),
		RegisteredRobots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_registered_robots",
			Help: "Current number of robots registered with the manager.",
		}),
		PeerVectorPacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleet_peer_vector_packs_total",
			Help: "Number of times peer_state.Pack has been invoked.",
		}),
		lastTickSeconds: atomic_float.NewAtomicFloat64(0),
	}
}

// RecordTick records one tick's duration across both the Prometheus
// histogram and the lock-free last-value gauge, and the timeout counter if
// the tick hit its deadline.
func (m *Metrics) RecordTick(seconds float64, timedOut bool) {
	m.TickDuration.Observe(seconds)
	m.lastTickSeconds.AtomicSet(seconds)
	if timedOut {
		m.BarrierTimeouts.Inc()
	}
}

// LastTickSeconds returns the most recently recorded tick duration without
// touching the Prometheus registry.
func (m *Metrics) LastTickSeconds() float64 {
	return m.lastTickSeconds.AtomicRead()
}
