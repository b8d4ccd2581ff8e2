package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// TasksEnqueuedTotal counts tasks enqueued by type.
	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"type"},
	)
	// TasksProcessing is a gauge of tasks currently running, by type.
	TasksProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_processing",
			Help: "Number of tasks currently running",
		},
		[]string{"type"},
	)
	// TasksCompletedTotal counts tasks that finished as done, by type.
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks completed",
		},
		[]string{"type"},
	)
	// TasksFailedTotal counts tasks that finalised as failed, by type.
	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks failed",
		},
		[]string{"type"},
	)
	// TasksRetriedTotal counts retry transitions, by type.
	TasksRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_retried_total",
			Help: "Total number of task retry transitions",
		},
		[]string{"type"},
	)

	// ScrapeRequestsTotal counts scraper backend calls by backend and outcome.
	ScrapeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_requests_total",
			Help: "Total number of scraper backend requests",
		},
		[]string{"backend", "operation", "outcome"},
	)
	// ScrapeRequestDuration records scraper call durations.
	ScrapeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrape_request_duration_seconds",
			Help:    "Scraper backend request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	// AIBatchesSubmittedTotal counts AI batches submitted.
	AIBatchesSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_batches_submitted_total",
			Help: "Total number of AI batches submitted",
		},
	)
	// AIBatchSize observes how many requests were packed into a submitted batch.
	AIBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_batch_size",
			Help:    "Number of requests packed into each submitted AI batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		},
	)
	// AIRefusalsTotal counts explicit provider refusals.
	AIRefusalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_refusals_total",
			Help: "Total number of AI provider refusals",
		},
	)
	// AIConfidenceHistogram is the distribution of AIInsights.confidence [1,5].
	AIConfidenceHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_insights_confidence",
			Help:    "Distribution of AI insight confidence ratings",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// EmbeddingsGeneratedTotal counts embeddings produced.
	EmbeddingsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "embeddings_generated_total",
			Help: "Total number of embeddings generated",
		},
	)

	// TaxonomyMatchesTotal counts taxonomy matcher resolutions by method.
	TaxonomyMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxonomy_matches_total",
			Help: "Total number of taxonomy term resolutions by method",
		},
		[]string{"kind", "method"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TasksEnqueuedTotal,
		TasksProcessing,
		TasksCompletedTotal,
		TasksFailedTotal,
		TasksRetriedTotal,
		ScrapeRequestsTotal,
		ScrapeRequestDuration,
		AIBatchesSubmittedTotal,
		AIBatchSize,
		AIRefusalsTotal,
		AIConfidenceHistogram,
		EmbeddingsGeneratedTotal,
		TaxonomyMatchesTotal,
	)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueTask increments the enqueued-tasks counter for the given type.
func EnqueueTask(taskType string) {
	TasksEnqueuedTotal.WithLabelValues(taskType).Inc()
}

// StartProcessingTask increments the processing gauge for the given type.
func StartProcessingTask(taskType string) {
	TasksProcessing.WithLabelValues(taskType).Inc()
}

// CompleteTask marks a task done: decrements processing, increments completed.
func CompleteTask(taskType string) {
	TasksProcessing.WithLabelValues(taskType).Dec()
	TasksCompletedTotal.WithLabelValues(taskType).Inc()
}

// FailTask marks a task failed: decrements processing, increments failed.
func FailTask(taskType string) {
	TasksProcessing.WithLabelValues(taskType).Dec()
	TasksFailedTotal.WithLabelValues(taskType).Inc()
}

// RetryTask records a retry transition for the given type, decrementing
// processing without counting toward completed or failed.
func RetryTask(taskType string) {
	TasksProcessing.WithLabelValues(taskType).Dec()
	TasksRetriedTotal.WithLabelValues(taskType).Inc()
}

// RecordScrapeRequest records the outcome and duration of a scraper call.
func RecordScrapeRequest(backend, operation, outcome string, dur time.Duration) {
	ScrapeRequestsTotal.WithLabelValues(backend, operation, outcome).Inc()
	ScrapeRequestDuration.WithLabelValues(backend, operation).Observe(dur.Seconds())
}

// RecordAIBatchSubmitted records a batch submission of the given size.
func RecordAIBatchSubmitted(size int) {
	AIBatchesSubmittedTotal.Inc()
	AIBatchSize.Observe(float64(size))
}

// RecordAIRefusal increments the refusal counter.
func RecordAIRefusal() {
	AIRefusalsTotal.Inc()
}

// RecordAIConfidence observes a confidence rating in [1,5].
func RecordAIConfidence(confidence int) {
	if confidence >= 1 && confidence <= 5 {
		AIConfidenceHistogram.Observe(float64(confidence))
	}
}

// RecordEmbeddingGenerated increments the embeddings-generated counter.
func RecordEmbeddingGenerated() {
	EmbeddingsGeneratedTotal.Inc()
}

// RecordTaxonomyMatch records how a category/tag was resolved.
func RecordTaxonomyMatch(kind, method string) {
	TaxonomyMatchesTotal.WithLabelValues(kind, method).Inc()
}
