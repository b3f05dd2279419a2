package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportJobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog_import",
		Name:      "jobs_started_total",
		Help:      "Import jobs accepted for processing",
	})
	ImportJobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog_import",
		Name:      "jobs_completed_total",
		Help:      "Import jobs that reached COMPLETED",
	})
	ImportJobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog_import",
		Name:      "jobs_failed_total",
		Help:      "Import jobs that reached FAILED",
	})
	ImportJobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog_import",
		Name:      "jobs_cancelled_total",
		Help:      "Import jobs that reached CANCELLED",
	})
	ImportRowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog_import",
		Name:      "rows_processed_total",
		Help:      "Rows validated across all jobs",
	})
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "catalog_import",
		Name:      "staging_batch_seconds",
		Help:      "Duration of atomic staging batch writes",
		Buckets:   prometheus.DefBuckets,
	})
	LiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalog_import",
		Name:      "live_subscriptions",
		Help:      "Currently registered progress subscriptions",
	})
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog_import",
		Name:      "broadcast_failures_total",
		Help:      "Progress deliveries that failed and evicted a subscription",
	})
)

// BatchTimer measures one staging batch write
type BatchTimer struct {
	start time.Time
}

func NewBatchTimer() *BatchTimer {
	return &BatchTimer{start: time.Now()}
}

func (t *BatchTimer) Observe() {
	BatchDuration.Observe(time.Since(t.start).Seconds())
}
