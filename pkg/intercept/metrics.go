// metrics.go
package intercept

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "myrtle"
	metricsSubsystem = "intercept"
)

var (
	// Buckets for instrumented calls: 10us up to 5s
	callDurationBuckets = []float64{0.00001, 0.0001, 0.001, 0.005, 0.010, 0.050, 0.100, 0.500, 1.000, 5.000}
)

// metrics holds the registry's Prometheus metrics. A nil *metrics records nothing.
type metrics struct {
	// records is the number of currently tracked interceptions
	records prometheus.Gauge

	// calls counts calls through instrumented functions
	// Labels: behavior (passthrough/replaced/noop)
	calls *prometheus.CounterVec

	// errors counts calls that returned an error or panicked
	// Labels: behavior
	errors *prometheus.CounterVec

	// callDuration tracks the duration of profiled calls
	callDuration prometheus.Histogram
}

// initMetrics registers the registry metrics with reg
func initMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &metrics{}

	m.records = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "records",
			Help:      "Number of functions currently instrumented",
		},
	)
	if err := reg.Register(m.records); err != nil {
		return nil, fmt.Errorf("could not register records gauge: %w", err)
	}

	m.calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "calls_total",
			Help:      "Total number of calls through instrumented functions",
		},
		[]string{"behavior"},
	)
	if err := reg.Register(m.calls); err != nil {
		return nil, fmt.Errorf("could not register calls counter: %w", err)
	}

	m.errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Total number of instrumented calls that failed",
		},
		[]string{"behavior"},
	)
	if err := reg.Register(m.errors); err != nil {
		return nil, fmt.Errorf("could not register errors counter: %w", err)
	}

	m.callDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "call_duration_seconds",
			Help:      "Duration of profiled calls in seconds",
			Buckets:   callDurationBuckets,
		},
	)
	if err := reg.Register(m.callDuration); err != nil {
		return nil, fmt.Errorf("could not register call duration: %w", err)
	}

	return m, nil
}

func (m *metrics) setRecords(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}

func (m *metrics) recordCall(behavior string, failed bool) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(behavior).Inc()
	if failed {
		m.errors.WithLabelValues(behavior).Inc()
	}
}

func (m *metrics) observeDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.Observe(d.Seconds())
}
