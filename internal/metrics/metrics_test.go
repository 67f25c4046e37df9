package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(TaskEvents, Retries, BytesDownloaded, FetchDuration, ActiveWorkers, QueueDepth)

	// Package-level collectors outlive a single run of this test.
	TaskEvents.Reset()
	Retries.Reset()
	QueueDepth.Reset()
	bytesBefore := testutil.ToFloat64(BytesDownloaded)

	TaskEvents.WithLabelValues("complete").Inc()
	Retries.WithLabelValues("NetworkError").Add(2)
	BytesDownloaded.Add(600)
	ActiveWorkers.Set(3)
	QueueDepth.WithLabelValues("Pending").Set(5)

	expectedEvents := `# HELP fetchq_task_events_total Count of worker events applied by the scheduler.
# TYPE fetchq_task_events_total counter
fetchq_task_events_total{type="complete"} 1
`
	if err := testutil.CollectAndCompare(TaskEvents, strings.NewReader(expectedEvents)); err != nil {
		t.Fatalf("unexpected events metric: %v", err)
	}

	expectedRetries := `# HELP fetchq_retries_total Transfer retries by error kind.
# TYPE fetchq_retries_total counter
fetchq_retries_total{kind="NetworkError"} 2
`
	if err := testutil.CollectAndCompare(Retries, strings.NewReader(expectedRetries)); err != nil {
		t.Fatalf("unexpected retries metric: %v", err)
	}

	if got := testutil.ToFloat64(BytesDownloaded) - bytesBefore; got != 600 {
		t.Fatalf("bytes delta = %v want 600", got)
	}
	if got := testutil.ToFloat64(ActiveWorkers); got != 3 {
		t.Fatalf("active workers = %v want 3", got)
	}
	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("Pending")); got != 5 {
		t.Fatalf("pending depth = %v want 5", got)
	}
}

func TestFetchDurationHistogram(t *testing.T) {
	// Use a fresh histogram to avoid cross-test contamination
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fetchq",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of successful transfer attempts.",
		Buckets:   []float64{1, 10},
	})
	h.Observe(0.5)
	h.Observe(4)

	expected := `# HELP fetchq_fetch_duration_seconds Duration of successful transfer attempts.
# TYPE fetchq_fetch_duration_seconds histogram
fetchq_fetch_duration_seconds_bucket{le="1"} 1
fetchq_fetch_duration_seconds_bucket{le="10"} 2
fetchq_fetch_duration_seconds_bucket{le="+Inf"} 2
fetchq_fetch_duration_seconds_sum 4.5
fetchq_fetch_duration_seconds_count 2
`
	if err := testutil.CollectAndCompare(h, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected histogram: %v", err)
	}
}
