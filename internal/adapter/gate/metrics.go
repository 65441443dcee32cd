package gate

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "olla_link"

type collectors struct {
	capacity  prometheus.Gauge
	inFlight  prometheus.Gauge
	waiting   prometheus.Gauge
	acquired  prometheus.Counter
	slow      prometheus.Counter
	cancelled prometheus.Counter
	wait      prometheus.Histogram
}

func newCollectors(reg prometheus.Registerer) *collectors {
	c := &collectors{
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gate", Name: "capacity",
			Help: "Configured permit count, 0 when unbounded.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gate", Name: "in_flight",
			Help: "Requests currently holding a permit.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gate", Name: "waiting",
			Help: "Requests queued for a permit.",
		}),
		acquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gate", Name: "acquired_total",
			Help: "Permits handed out.",
		}),
		slow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gate", Name: "slow_acquires_total",
			Help: "Acquisitions that waited longer than the slow threshold.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gate", Name: "cancelled_total",
			Help: "Acquisitions abandoned before a permit was granted.",
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gate", Name: "wait_seconds",
			Help:    "Time spent waiting for a permit.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	if reg == nil {
		return c
	}
	c.capacity = Register(reg, c.capacity)
	c.inFlight = Register(reg, c.inFlight)
	c.waiting = Register(reg, c.waiting)
	c.acquired = Register(reg, c.acquired)
	c.slow = Register(reg, c.slow)
	c.cancelled = Register(reg, c.cancelled)
	c.wait = Register(reg, c.wait)
	return c
}

// Register adds c to reg, or returns the collector already registered under
// the same descriptor so several adapters can share one registry
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
