package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TasksPublishedTotal counts messages published to a broker queue.
	TasksPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_published_total",
			Help: "Total number of task messages published, by task name and queue.",
		},
		[]string{"task", "queue"},
	)
	// TasksConsumedTotal counts messages leased from a broker by the
	// executor, by task name and resulting state.
	TasksConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_consumed_total",
			Help: "Total number of task messages consumed, by task name and resulting state.",
		},
		[]string{"task", "state"},
	)
	// TaskDuration records handler execution duration by task name.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_task_duration_seconds",
			Help:    "Task handler execution duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"task"},
	)
	// TasksInFlight is a gauge of currently-executing handlers.
	TasksInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskqueue_tasks_in_flight",
			Help: "Number of task handlers currently executing.",
		},
		[]string{"task"},
	)
	// RetriesTotal counts retry requeues by task name.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_retries_total",
			Help: "Total number of task retries requeued.",
		},
		[]string{"task"},
	)
	// QueueLength is a gauge of broker queue depth by queue name; no broker
	// adapter in this module sets it.
	QueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskqueue_queue_length",
			Help: "Approximate number of ready messages in a broker queue.",
		},
		[]string{"queue"},
	)
	// PartitionLockAcquisitionsTotal counts lock acquisition attempts by
	// outcome (acquired, denied).
	PartitionLockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_partition_lock_acquisitions_total",
			Help: "Total partition lock acquisition attempts by outcome.",
		},
		[]string{"outcome"},
	)
	// OutboxPendingGauge tracks the outbox backlog.
	OutboxPendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskqueue_outbox_pending",
			Help: "Number of outbox entries awaiting dispatch as of the last poll.",
		},
	)
	// BeatFiringsTotal counts beat entry firings by schedule name.
	BeatFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_beat_firings_total",
			Help: "Total number of beat schedule entries fired.",
		},
		[]string{"name"},
	)
)

// MustRegister registers every metric declared in this package with reg.
// Call once per process (worker, beat) against prometheus.DefaultRegisterer
// or a dedicated registry.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		TasksPublishedTotal,
		TasksConsumedTotal,
		TaskDuration,
		TasksInFlight,
		RetriesTotal,
		QueueLength,
		PartitionLockAcquisitionsTotal,
		OutboxPendingGauge,
		BeatFiringsTotal,
	)
}
