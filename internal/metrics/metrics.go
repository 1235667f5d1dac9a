package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Ingest results
	IngestAccepted     = "accepted"
	IngestDeduplicated = "deduplicated"
	IngestInvalid      = "invalid"
	IngestWriteFailed  = "write_failed"
	IngestDropped      = "dropped"

	// Ingest sources
	SourceHTTP = "http"
	SourceMQTT = "mqtt"

	// Store operations
	StoreOpUpsert  = "upsert"
	StoreOpGet     = "get"
	StoreOpListAll = "list_all"

	// Detector modes
	ModeWatch = "watch"
	ModePoll  = "poll"

	// Stream transports
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route", "status_code"},
	)
)

// Ingestion Metrics
var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_ingest_total",
			Help: "Location reports by source and result",
		},
		[]string{"source", "result"},
	)
)

// Store Metrics
var (
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "location_store_operation_duration_seconds",
			Help:    "Location store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_store_operation_errors_total",
			Help: "Location store operation failures",
		},
		[]string{"operation"},
	)

	MalformedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "location_store_malformed_records_total",
			Help: "Stored records skipped because they could not be decoded",
		},
	)
)

// Stream Metrics
var (
	SnapshotsComputedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_snapshots_computed_total",
			Help: "Aggregate snapshots computed by the stream broker",
		},
	)

	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stream_snapshot_duration_seconds",
			Help:    "Time to compute and encode one aggregate snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	StreamSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_subscribers",
			Help: "Currently connected stream subscribers",
		},
		[]string{"transport"},
	)

	StreamSkippedUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_skipped_updates_total",
			Help: "Updates replaced before a lagging subscriber consumed them",
		},
	)

	DetectorSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_detector_signals_total",
			Help: "Change signals emitted by the change detector",
		},
		[]string{"mode"},
	)

	DetectorDegradationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_detector_degradations_total",
			Help: "Times the change detector fell back from watch to poll mode",
		},
	)
)
