package dispatcher

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wires the Racing Dispatcher into Prometheus. It is the domain-stack counterpart of the
// teacher's internal/reporter text-based stats: both describe the same underlying counts, but this
// one is scraped rather than printed on SIGUSR1.
type Metrics struct {
	dispatchTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher's collectors against reg. If reg already holds collectors of
// the same name (e.g. a second mainExecute() in one test binary), those existing collectors are
// reused. Passing a fresh prometheus.NewRegistry() in tests avoids sharing the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dohrelay_dispatch_total",
			Help: "Outcomes of upstream launches, by upstream and outcome class.",
		}, []string{"upstream", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dohrelay_upstream_latency_seconds",
			Help:    "Observed latency of winning upstream launches.",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
	}

	var are prometheus.AlreadyRegisteredError
	if err := reg.Register(m.dispatchTotal); err != nil {
		if !errors.As(err, &are) {
			panic(err)
		}
		m.dispatchTotal = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.upstreamLatency); err != nil {
		if !errors.As(err, &are) {
			panic(err)
		}
		m.upstreamLatency = are.ExistingCollector.(*prometheus.HistogramVec)
	}

	return m
}

// recordOutcome is a no-op when metrics is nil, so Dispatchers built without a registry (most unit
// tests) don't need to care.
func (d *Dispatcher) recordOutcome(upstream, class string, elapsedMs float64) {
	if d.metrics == nil {
		return
	}
	d.metrics.dispatchTotal.WithLabelValues(upstream, class).Inc()
	if class == "win" {
		d.metrics.upstreamLatency.WithLabelValues(upstream).Observe(elapsedMs / 1000.0)
	}
}
