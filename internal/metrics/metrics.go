package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync outcomes used as the outcome label.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kbsync_sync_runs_total",
	Help: "Sync runs labelled by source type and outcome",
}, []string{"source_type", "outcome"})

var chunksUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kbsync_chunks_upserted_total",
	Help: "Chunks written to the vector index",
}, []string{"source_type"})

var embeddingsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kbsync_embeddings_deleted_total",
	Help: "Embeddings removed from the vector index",
}, []string{"source_type"})

var syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "kbsync_sync_duration_seconds",
	Help:    "Wall time of one source sync.",
	Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300},
}, []string{"source_type"})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "kbsync_dependency_latency_seconds",
	Help:    "Latency of external service calls.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
}, []string{"service"})

var tasksInQueue = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kbsync_tasks_in_queue",
	Help: "Number of tasks waiting for a worker",
})

var taskResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kbsync_task_results_total",
	Help: "Settled background tasks labelled by action and result",
}, []string{"action", "result"})

func CaptureSync(sourceType, outcome string, elapsed time.Duration) {
	syncRuns.WithLabelValues(sourceType, outcome).Inc()
	syncDuration.WithLabelValues(sourceType).Observe(elapsed.Seconds())
}

func AddChunksUpserted(sourceType string, n int) {
	chunksUpserted.WithLabelValues(sourceType).Add(float64(n))
}

func AddEmbeddingsDeleted(sourceType string, n int) {
	embeddingsDeleted.WithLabelValues(sourceType).Add(float64(n))
}

// CaptureDependency records the latency of a call to service.
func CaptureDependency(service string, elapsed time.Duration) {
	dependencyLatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

func IncrementTasksInQueue() {
	tasksInQueue.Inc()
}

func DecrementTasksInQueue() {
	tasksInQueue.Dec()
}

func CaptureTaskResult(action string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	taskResults.WithLabelValues(action, result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
