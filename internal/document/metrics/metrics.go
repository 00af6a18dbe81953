package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for document binding and evidence retrieval.
type Metrics struct {
	// Binding outcomes: bound, rebound, unbound, duplicate, exhausted, error.
	BindOutcome *prometheus.CounterVec

	// Evidence retrieval outcomes: ok, restore_initiated, retry_in_progress,
	// fetch_failed.
	RetrievalOutcome *prometheus.CounterVec

	// Size of archived evidence uploads in bytes.
	EvidenceSize prometheus.Histogram
}

// New creates and registers all document metrics.
func New() *Metrics {
	return &Metrics{
		BindOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "repertor_binding_outcomes_total",
			Help: "Total document binding outcomes by result",
		}, []string{"outcome"}),

		RetrievalOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "repertor_evidence_retrieval_outcomes_total",
			Help: "Total evidence retrieval outcomes by result",
		}, []string{"outcome"}),

		EvidenceSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "repertor_evidence_size_bytes",
			Help:    "Size of archived evidence files",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}
}

// RecordBinding counts one binding result.
func (m *Metrics) RecordBinding(outcome string) {
	if m != nil {
		m.BindOutcome.WithLabelValues(outcome).Inc()
	}
}

// RecordRetrieval counts one evidence retrieval result.
func (m *Metrics) RecordRetrieval(outcome string) {
	if m != nil {
		m.RetrievalOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveEvidenceSize records the size of one archived upload.
func (m *Metrics) ObserveEvidenceSize(bytes int64) {
	if m != nil {
		m.EvidenceSize.Observe(float64(bytes))
	}
}
