package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TaskEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchq",
			Name:      "task_events_total",
			Help:      "Count of worker events applied by the scheduler.",
		},
		[]string{"type"},
	)
	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchq",
			Name:      "retries_total",
			Help:      "Transfer retries by error kind.",
		},
		[]string{"kind"},
	)
	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fetchq",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to partial files.",
		},
	)
	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fetchq",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of successful transfer attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fetchq",
			Name:      "active_workers",
			Help:      "Number of workers currently holding a lease.",
		},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fetchq",
			Name:      "tasks",
			Help:      "Tasks in the queue by status.",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register registers the fetchq metrics into the default registry. Calling
// it more than once is a no-op.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TaskEvents, Retries, BytesDownloaded, FetchDuration, ActiveWorkers, QueueDepth)
	})
}
