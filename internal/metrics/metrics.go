package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_jobs_started_total",
			Help: "Jobs accepted by the start endpoint.",
		},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_jobs_finished_total",
			Help: "Jobs that reached a terminal status, by status.",
		},
		[]string{"status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_job_duration_seconds",
			Help:    "Execution time from claim to terminal status.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	recordsExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_records_total",
			Help: "Records stored for completed jobs, by record type.",
		},
		[]string{"record_type"},
	)

	queueRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_queue_requeued_total",
			Help: "Stale deliveries returned to the task queue by the reaper.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		},
		[]string{"method", "route", "status"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			jobsStarted, jobsFinished, jobDuration,
			recordsExtracted, queueRequeued, httpRequests,
		)
	})
}

func JobStarted() { jobsStarted.Inc() }

func JobFinished(status string, took time.Duration) {
	jobsFinished.WithLabelValues(status).Inc()
	jobDuration.WithLabelValues(status).Observe(took.Seconds())
}

func RecordsExtracted(recordType string, n int) {
	recordsExtracted.WithLabelValues(recordType).Add(float64(n))
}

func Requeued(n int64) {
	queueRequeued.Add(float64(n))
}

func HTTPRequest(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
