package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "freshtrack_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestReadings *prometheus.CounterVec

	evaluationTotal    *prometheus.CounterVec
	evaluationFailures prometheus.Counter
	evaluationSkipped  prometheus.Counter
	evaluationLatency  prometheus.Histogram

	alertEventsTotal *prometheus.CounterVec

	notifyDelivered *prometheus.CounterVec
	notifyFailures  *prometheus.CounterVec
	notifyDropped   prometheus.Counter
	notifyQueue     prometheus.Gauge

	partitionJobs       *prometheus.CounterVec
	partitionsDropped   prometheus.Counter
	defaultPartitionRow prometheus.Gauge

	sweepTotal *prometheus.CounterVec

	jobRuns    *prometheus.CounterVec
	jobLatency *prometheus.HistogramVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by path and result",
			},
			[]string{"path", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total rejected ingest requests by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		)
		ingestReadings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_readings_total",
				Help: "Readings persisted by source",
			},
			[]string{"source"},
		)

		evaluationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluations_total",
				Help: "Unit state transitions by from and to status",
			},
			[]string{"from", "to"},
		)
		evaluationFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_failures_total",
				Help: "Readings whose evaluation failed",
			},
		)
		evaluationSkipped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_skipped_total",
				Help: "Readings older than the unit anchor, not evaluated",
			},
		)
		evaluationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Single reading evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Alert lifecycle events by kind and type",
			},
			[]string{"event", "type"},
		)

		notifyDelivered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_delivered_total",
				Help: "Notifications delivered by channel",
			},
			[]string{"channel"},
		)
		notifyFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_failures_total",
				Help: "Notifications abandoned after retries by channel",
			},
			[]string{"channel"},
		)
		notifyDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_dropped_total",
				Help: "Notifications dropped because the queue was full",
			},
		)
		notifyQueue = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "notify_queue_depth",
				Help: "Queued notifications",
			},
		)

		partitionJobs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "partition_jobs_total",
				Help: "Partition maintenance runs by job and result",
			},
			[]string{"job", "result"},
		)
		partitionsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "partitions_dropped_total",
				Help: "Reading partitions dropped by retention",
			},
		)
		defaultPartitionRow = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "default_partition_rows",
				Help: "Rows found in the catch-all readings partition at last audit",
			},
		)

		sweepTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_actions_total",
				Help: "Units or alerts changed by periodic sweeps",
			},
			[]string{"sweep"},
		)

		jobRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduled_job_runs_total",
				Help: "Scheduled job runs by job and result",
			},
			[]string{"job", "result"},
		)
		jobLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scheduled_job_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"job"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Compliance report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Compliance report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestReadings,
			evaluationTotal,
			evaluationFailures,
			evaluationSkipped,
			evaluationLatency,
			alertEventsTotal,
			notifyDelivered,
			notifyFailures,
			notifyDropped,
			notifyQueue,
			partitionJobs,
			partitionsDropped,
			defaultPartitionRow,
			sweepTotal,
			jobRuns,
			jobLatency,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(path, result string, duration time.Duration) {
	if path == "" {
		path = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(path, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(path).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// AddIngestedReadings counts persisted readings.
func AddIngestedReadings(source string, count int) {
	if count <= 0 {
		return
	}
	if source == "" {
		source = "unknown"
	}
	if ingestReadings != nil {
		ingestReadings.WithLabelValues(source).Add(float64(count))
	}
}

// ObserveEvaluation records one evaluated reading.
func ObserveEvaluation(from, to string, duration time.Duration) {
	if evaluationTotal != nil {
		evaluationTotal.WithLabelValues(from, to).Inc()
	}
	if evaluationLatency != nil {
		evaluationLatency.Observe(duration.Seconds())
	}
}

// IncEvaluationFailure counts a failed evaluation.
func IncEvaluationFailure() {
	if evaluationFailures != nil {
		evaluationFailures.Inc()
	}
}

// IncEvaluationSkipped counts an out-of-order reading.
func IncEvaluationSkipped() {
	if evaluationSkipped != nil {
		evaluationSkipped.Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event, alertType string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event, alertType).Inc()
	}
}

// IncNotifyDelivered counts a delivered notification.
func IncNotifyDelivered(channel string) {
	if notifyDelivered != nil {
		notifyDelivered.WithLabelValues(channel).Inc()
	}
}

// IncNotifyFailure counts a notification abandoned after retries.
func IncNotifyFailure(channel string) {
	if notifyFailures != nil {
		notifyFailures.WithLabelValues(channel).Inc()
	}
}

// IncNotifyDropped counts a notification evicted from a full queue.
func IncNotifyDropped() {
	if notifyDropped != nil {
		notifyDropped.Inc()
	}
}

// SetNotifyQueueDepth sets the queue gauge.
func SetNotifyQueueDepth(depth int) {
	if notifyQueue != nil {
		notifyQueue.Set(float64(depth))
	}
}

// IncPartitionJob records a partition maintenance run.
func IncPartitionJob(job, result string) {
	if result == "" {
		result = resultSuccess
	}
	if partitionJobs != nil {
		partitionJobs.WithLabelValues(job, result).Inc()
	}
}

// AddPartitionsDropped counts dropped partitions.
func AddPartitionsDropped(count int) {
	if count <= 0 {
		return
	}
	if partitionsDropped != nil {
		partitionsDropped.Add(float64(count))
	}
}

// SetDefaultPartitionRows records the catch-all partition audit result.
func SetDefaultPartitionRows(rows int64) {
	if rows < 0 {
		rows = 0
	}
	if defaultPartitionRow != nil {
		defaultPartitionRow.Set(float64(rows))
	}
}

// AddSweepActions counts changes made by a sweep.
func AddSweepActions(sweep string, count int) {
	if count <= 0 {
		return
	}
	if sweepTotal != nil {
		sweepTotal.WithLabelValues(sweep).Add(float64(count))
	}
}

// ObserveScheduledJob records one scheduled job run.
func ObserveScheduledJob(job, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if jobRuns != nil {
		jobRuns.WithLabelValues(job, result).Inc()
	}
	if jobLatency != nil {
		jobLatency.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
