package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ==========================================================================
	// HTTP Metrics
	// ==========================================================================
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// ==========================================================================
	// Database Metrics
	// ==========================================================================
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_total",
			Help: "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query_type", "table"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	// ==========================================================================
	// Queue Metrics
	// ==========================================================================
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current depth of the durable job queue",
		},
		[]string{"job_type"},
	)

	QueueWorkersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_workers_active",
			Help: "Number of active workers per job type",
		},
		[]string{"job_type"},
	)

	QueueJobsLeasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_leased_total",
			Help: "Total number of jobs leased from the queue",
		},
		[]string{"job_type"},
	)

	QueueJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Time to process a leased job, from lease to commit",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"job_type"},
	)

	QueueJobRetries = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_retries",
			Help:    "Attempt number of each failed job attempt",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"job_type"},
	)

	QueueJobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_failed_total",
			Help: "Total number of jobs exhausting their retry budget",
		},
		[]string{"job_type"},
	)

	// ==========================================================================
	// Ingest Metrics
	// ==========================================================================
	FeedRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_runs_total",
			Help: "Total number of feed ingestion runs by outcome",
		},
		[]string{"status"}, // SUCCESS, WARNING, FAILURE, SKIPPED
	)

	FeedRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_run_duration_seconds",
			Help:    "Time to complete one feed ingestion run",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	FeedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_records_total",
			Help: "Total number of records processed by classification lane",
		},
		[]string{"lane"}, // indexable, quarantine, reject
	)

	FeedRecordErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_record_errors_total",
			Help: "Total number of per-record validation errors by error code",
		},
		[]string{"code"},
	)

	FeedsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feeds_active_total",
			Help: "Number of enabled feeds by health status",
		},
		[]string{"status"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Time to fetch a feed's raw bytes",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"transport"},
	)

	FetchContentUnchangedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_content_unchanged_total",
			Help: "Total number of runs skipped because the feed hash was unchanged",
		},
	)

	// ==========================================================================
	// Match Metrics
	// ==========================================================================
	MatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matched_total",
			Help: "Total number of dealer SKUs matched by method",
		},
		[]string{"method"}, // upc, attribute, auto_created
	)

	MatchBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "match_batch_duration_seconds",
			Help:    "Time to process one match batch",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10},
		},
	)

	// ==========================================================================
	// Benchmark Metrics
	// ==========================================================================
	BenchmarksComputedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchmarks_computed_total",
			Help: "Total number of canonical SKU benchmarks recomputed by confidence",
		},
		[]string{"confidence"},
	)

	BenchmarkComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "benchmark_compute_duration_seconds",
			Help:    "Time to recompute benchmarks for one canonical SKU cohort",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
	)

	// ==========================================================================
	// Insight Metrics
	// ==========================================================================
	InsightsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_generated_total",
			Help: "Total number of insights generated by type",
		},
		[]string{"type"},
	)

	// ==========================================================================
	// Notification Metrics
	// ==========================================================================
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of dealer notifications sent by reason",
		},
		[]string{"reason"}, // feed_failed, feed_warning, feed_recovered, subscription_expiring
	)

	NotificationsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_suppressed_total",
			Help: "Total number of notifications suppressed by the rate limit",
		},
		[]string{"reason"},
	)

	// ==========================================================================
	// SSE Metrics
	// ==========================================================================
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of open feed-run progress SSE connections",
		},
	)

	SSESubscribersPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sse_subscribers_per_run",
			Help:    "Number of subscribers present when a feed-run event is broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25},
		},
	)

	// ==========================================================================
	// External API Metrics
	// ==========================================================================
	ExternalAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_api_calls_total",
			Help: "Total external API calls",
		},
		[]string{"service", "endpoint", "status"},
	)

	ExternalAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_api_latency_seconds",
			Help:    "External API call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "endpoint"},
	)
)
