package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// RemoteCallBuckets for lookups, dedupe claims and sink calls
	RemoteCallBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// BatchBuckets for whole-batch processing time
	BatchBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	// SizeBuckets for record counts per batch
	SizeBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}
)

// Pipeline Metrics
var (
	// BatchesTotal counts processed batches by result (ok, partial, fatal)
	BatchesTotal CounterVec = noopCounters{}

	// BatchRecords measures records per inbound batch
	BatchRecords Histogram = noop{}

	// BatchDurationSeconds measures wall time per batch
	BatchDurationSeconds Histogram = noop{}

	// InFlightBatches tracks batches currently being processed
	InFlightBatches Gauge = noop{}

	// RecordsTotal counts records by outcome (published, duplicate, dropped, failed)
	RecordsTotal CounterVec = noopCounters{}

	// RecordFailuresTotal counts failed or dropped records by stage and retryability
	RecordFailuresTotal CounterVec = noopCounters{}
)

// Enrichment Metrics
var (
	// LookupDurationSeconds measures repository lookup latency
	LookupDurationSeconds Histogram = noop{}

	// LookupCacheTotal counts lookup cache results (hit, miss, shared, abandoned)
	LookupCacheTotal CounterVec = noopCounters{}
)

// Dedupe Metrics
var (
	// DedupeClaimsTotal counts claims by result (claimed, duplicate, error)
	DedupeClaimsTotal CounterVec = noopCounters{}

	// DedupeClaimSeconds measures claim latency by store
	DedupeClaimSeconds HistogramVec = noopHistograms{}
)

// Publisher Metrics
var (
	// PublishEntriesTotal counts sink entries by sink and result (ok, retried, failed)
	PublishEntriesTotal CounterVec = noopCounters{}

	// PublishBatchSize measures entries per sink call
	PublishBatchSize Histogram = noop{}

	// PublishDurationSeconds measures sink call latency by sink
	PublishDurationSeconds HistogramVec = noopHistograms{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	BatchesTotal = NewCounterVec(
		"batches_total",
		"Processed batches by result",
		[]string{"result"},
	)
	BatchRecords = NewHistogram(
		"batch_records",
		"Records per inbound batch",
		SizeBuckets,
	)
	BatchDurationSeconds = NewHistogram(
		"batch_duration_seconds",
		"Batch processing duration in seconds",
		BatchBuckets,
	)
	InFlightBatches = NewGauge(
		"inflight_batches",
		"Batches currently being processed",
	)
	RecordsTotal = NewCounterVec(
		"records_total",
		"Records by outcome",
		[]string{"outcome"},
	)
	RecordFailuresTotal = NewCounterVec(
		"record_failures_total",
		"Failed or dropped records by stage and retryability",
		[]string{"stage", "retryable"},
	)

	LookupDurationSeconds = NewHistogram(
		"lookup_duration_seconds",
		"Enrichment repository lookup duration in seconds",
		RemoteCallBuckets,
	)
	LookupCacheTotal = NewCounterVec(
		"lookup_cache_total",
		"Enrichment lookup cache results",
		[]string{"result"},
	)

	DedupeClaimsTotal = NewCounterVec(
		"dedupe_claims_total",
		"Dedupe claims by result",
		[]string{"result"},
	)
	DedupeClaimSeconds = NewHistogramVec(
		"dedupe_claim_seconds",
		"Dedupe claim duration in seconds",
		[]string{"store"},
		RemoteCallBuckets,
	)

	PublishEntriesTotal = NewCounterVec(
		"publish_entries_total",
		"Sink entries by sink and result",
		[]string{"sink", "result"},
	)
	PublishBatchSize = NewHistogram(
		"publish_batch_size",
		"Entries per sink call",
		SizeBuckets,
	)
	PublishDurationSeconds = NewHistogramVec(
		"publish_duration_seconds",
		"Sink call duration in seconds",
		[]string{"sink"},
		RemoteCallBuckets,
	)
}
