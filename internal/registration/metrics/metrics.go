package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for number allocation.
type Metrics struct {
	// Allocation outcomes: allocated, conflict_retry, exhausted, error.
	AllocationOutcome *prometheus.CounterVec

	// End-to-end allocation latency including retries.
	AllocateLatency prometheus.Histogram

	// Retry attempts consumed per successful allocation.
	AllocateAttempts prometheus.Histogram
}

// New creates and registers all allocation metrics.
func New() *Metrics {
	return &Metrics{
		AllocationOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "repertor_allocation_outcomes_total",
			Help: "Total allocation outcomes by result",
		}, []string{"outcome"}),

		AllocateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "repertor_allocation_duration_seconds",
			Help:    "Duration of number allocation including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		AllocateAttempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "repertor_allocation_attempts",
			Help:    "Transaction attempts per successful allocation",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		}),
	}
}

// RecordOutcome counts one allocation result.
func (m *Metrics) RecordOutcome(outcome string) {
	if m != nil {
		m.AllocationOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveAllocation records latency and attempt count of a successful allocation.
func (m *Metrics) ObserveAllocation(d time.Duration, attempts int) {
	if m != nil {
		m.AllocateLatency.Observe(d.Seconds())
		m.AllocateAttempts.Observe(float64(attempts))
	}
}
