package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sarchlab/mmusim/instrumentation/hooking"
	"github.com/sarchlab/mmusim/mem/backing"
	"github.com/sarchlab/mmusim/mem/cache"
)

// Metrics is a hook that exports cache and store activity as Prometheus
// metrics.
type Metrics struct {
	cacheEvents   *prometheus.CounterVec
	storeAccesses *prometheus.CounterVec
	storeLatency  prometheus.Histogram
}

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmusim_cache_events_total",
				Help: "Number of cache events by cache and kind.",
			},
			[]string{"cache", "kind"},
		),
		storeAccesses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmusim_store_accesses_total",
				Help: "Number of backing store accesses by operation.",
			},
			[]string{"op"},
		),
		storeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mmusim_store_read_latency_seconds",
			Help:    "Latency charged to backing store reads.",
			Buckets: []float64{
				0.001, 0.01, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3,
			},
		}),
	}

	reg.MustRegister(m.cacheEvents, m.storeAccesses, m.storeLatency)

	return m
}

// Func updates the metrics for one hook invocation.
func (m *Metrics) Func(ctx hooking.HookCtx) {
	switch item := ctx.Item.(type) {
	case cache.Event:
		name := ""
		if c, ok := ctx.Domain.(*cache.Cache); ok {
			name = c.Name()
		}

		m.cacheEvents.WithLabelValues(name, item.Pos.Name).Inc()
	case backing.Access:
		if ctx.Pos == backing.HookPosStoreWrite {
			m.storeAccesses.WithLabelValues("write").Inc()
			return
		}

		m.storeAccesses.WithLabelValues("read").Inc()
		m.storeLatency.Observe(item.Latency.Seconds())
	}
}

func hasHook(hooks []hooking.Hook, hook hooking.Hook) bool {
	for _, h := range hooks {
		if h == hook {
			return true
		}
	}

	return false
}
