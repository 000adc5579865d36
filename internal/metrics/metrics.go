package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels for the role of an index in a write
const (
	RolePrimary = "primary"
	RoleShadow  = "shadow"
)

var (
	// IndexWritesTotal counts single-document index and delete calls
	IndexWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_search_index_writes_total",
			Help: "Single-document index writes by operation, index role and result",
		},
		[]string{"op", "role", "result"},
	)

	// BulkDocumentsTotal counts documents handled by the bulk indexer
	BulkDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_search_bulk_documents_total",
			Help: "Documents written by the bulk indexer by result",
		},
		[]string{"result"},
	)

	// BulkBatchDuration measures bulk batch commit latency
	BulkBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "annotation_search_bulk_batch_duration_seconds",
			Help:    "Latency of bulk batch commits",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TasksTotal counts dispatched task executions by outcome
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_search_tasks_total",
			Help: "Task executions by task name and outcome",
		},
		[]string{"task", "outcome"},
	)

	// TaskDuration measures handler latency
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annotation_search_task_duration_seconds",
			Help:    "Task handler latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// TaskQueueDepth tracks tasks waiting for a worker
	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "annotation_search_task_queue_depth",
			Help: "Tasks waiting for a worker",
		},
	)

	// ReindexActive is 1 while this process runs a full reindex
	ReindexActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "annotation_search_reindex_active",
			Help: "Whether a full reindex is running in this process",
		},
	)
)

// Result maps an error to a result label
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
