package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics counts upload attempts as they move through transfer,
// polling and normalization.
type PipelineMetrics struct {
	service string

	transferAttempts *prometheus.CounterVec
	transferRetries  *prometheus.CounterVec
	polls            *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	tasksPerUpload   *prometheus.HistogramVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	transferAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "attempts_total",
			Help:      "Upload attempts against the extraction backend by outcome.",
		},
		[]string{"service", "outcome"},
	)
	transferRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "retries_total",
			Help:      "Backoff waits scheduled after failed upload attempts.",
		},
		[]string{"service"},
	)
	polls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Status polls by resulting state.",
		},
		[]string{"service", "state"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "outcomes_total",
			Help:      "Upload attempts that ended, by final state.",
		},
		[]string{"service", "state"},
	)
	tasksPerUpload := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "normalized_tasks",
			Help:      "Care tasks produced per completed upload.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"service"},
	)

	registerer.MustRegister(transferAttempts, transferRetries, polls, outcomes, tasksPerUpload)

	return &PipelineMetrics{
		service:          service,
		transferAttempts: transferAttempts,
		transferRetries:  transferRetries,
		polls:            polls,
		outcomes:         outcomes,
		tasksPerUpload:   tasksPerUpload,
	}
}

func (m *PipelineMetrics) RecordTransferAttempt(outcome string) {
	m.transferAttempts.WithLabelValues(m.service, orUnknown(outcome)).Inc()
}

func (m *PipelineMetrics) RecordTransferRetry() {
	m.transferRetries.WithLabelValues(m.service).Inc()
}

func (m *PipelineMetrics) RecordPoll(state string) {
	m.polls.WithLabelValues(m.service, orUnknown(state)).Inc()
}

func (m *PipelineMetrics) RecordUploadOutcome(state string) {
	m.outcomes.WithLabelValues(m.service, orUnknown(state)).Inc()
}

func (m *PipelineMetrics) RecordTasksNormalized(count int) {
	if count < 0 {
		return
	}
	m.tasksPerUpload.WithLabelValues(m.service).Observe(float64(count))
}

func orUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
