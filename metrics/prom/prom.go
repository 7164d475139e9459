// Package prom adapts expiremap.Metrics to Prometheus counters and gauges.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mgolub/expiremap"
)

// Adapter implements expiremap.Metrics and exports Prometheus counters
// and a gauge. Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	expires *prometheus.CounterVec
	size    prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Get calls that found an unexpired entry",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Get calls that found no entry or an expired one",
			ConstLabels: constLabels,
		}),
		expires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "expirations_total",
				Help:        "Entries removed, by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries as of the last Size call",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.expires, a.size)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Expire increments the expiration counter with a reason label.
func (a *Adapter) Expire(r expiremap.EvictReason) {
	a.expires.WithLabelValues(r.String()).Inc()
}

// Size updates the resident entry count gauge.
func (a *Adapter) Size(entries int) {
	a.size.Set(float64(entries))
}

var _ expiremap.Metrics = (*Adapter)(nil)
