package vclock

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "myrtle"
	metricsSubsystem = "vclock"

	kindTimeout  = "timeout"
	kindInterval = "interval"
)

// metrics holds the clock's Prometheus metrics. A nil *metrics records nothing.
type metrics struct {
	// scheduled counts callbacks queued by setTimeout/setInterval
	// Labels: kind (timeout/interval)
	scheduled *prometheus.CounterVec

	// fired counts callbacks invoked by Advance
	// Labels: kind
	fired *prometheus.CounterVec

	// cancelled counts pending callbacks removed by clearTimeout/clearInterval
	cancelled prometheus.Counter

	// tick is the current simulated tick
	tick prometheus.Gauge
}

func initMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &metrics{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "scheduled_total",
			Help:      "Total number of callbacks scheduled on the virtual clock",
		}, []string{"kind"}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "fired_total",
			Help:      "Total number of callbacks fired by the virtual clock",
		}, []string{"kind"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "cancelled_total",
			Help:      "Total number of pending callbacks cancelled",
		}),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tick",
			Help:      "Current simulated tick",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"scheduled counter": m.scheduled,
		"fired counter":     m.fired,
		"cancelled counter": m.cancelled,
		"tick gauge":        m.tick,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("could not register %s: %w", name, err)
		}
	}
	return m, nil
}

func (m *metrics) recordScheduled(kind string) {
	if m == nil {
		return
	}
	m.scheduled.WithLabelValues(kind).Inc()
}

func (m *metrics) recordFired(kind string) {
	if m == nil {
		return
	}
	m.fired.WithLabelValues(kind).Inc()
}

func (m *metrics) recordCancelled() {
	if m == nil {
		return
	}
	m.cancelled.Inc()
}

func (m *metrics) setTick(now int64) {
	if m == nil {
		return
	}
	m.tick.Set(float64(now))
}
