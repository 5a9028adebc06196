// Package metrics provides Prometheus metrics for the table copier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the table copier.
type Metrics struct {
	// Partition metrics
	PartitionsPublished *prometheus.CounterVec
	PartitionsFailed    *prometheus.CounterVec
	ObjectsReplaced     *prometheus.CounterVec
	ObjectsUnchanged    *prometheus.CounterVec
	LastPublishedStart  *prometheus.GaugeVec

	// Timing metrics
	ExtractDuration  *prometheus.HistogramVec
	UploadDuration   *prometheus.HistogramVec
	PipelineDuration *prometheus.HistogramVec

	// Size metrics
	RowsExtracted  *prometheus.CounterVec
	PartitionRows  *prometheus.HistogramVec
	PartitionBytes *prometheus.HistogramVec

	InFlightPartitions prometheus.Gauge

	// Error metrics
	SourceErrors   *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	MetadataErrors *prometheus.CounterVec
	AuditErrors    *prometheus.CounterVec
	CleanupErrors  *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init registers the global metrics with the default registry.
// Call this once at startup.
func Init(namespace string) *Metrics {
	defaultMetrics = New(namespace, prometheus.DefaultRegisterer)
	return defaultMetrics
}

// New creates metrics registered with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "table_copier"
	}
	f := promauto.With(reg)

	return &Metrics{
		PartitionsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_published_total",
				Help:      "Total number of partitions published",
			},
			[]string{"dataset"},
		),
		PartitionsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_failed_total",
				Help:      "Total number of partition runs that failed, by step",
			},
			[]string{"dataset", "step"},
		),
		ObjectsReplaced: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_replaced_total",
				Help:      "Publishes that overwrote an existing object",
			},
			[]string{"dataset"},
		),
		ObjectsUnchanged: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_unchanged_total",
				Help:      "Publishes whose payload matched the replaced object",
			},
			[]string{"dataset"},
		),
		LastPublishedStart: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_published_interval_start_seconds",
				Help:      "Unix time of the latest published partition start",
			},
			[]string{"dataset"},
		),
		ExtractDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extract_duration_seconds",
				Help:      "Time to extract a partition into a local artifact",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"dataset"},
		),
		UploadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time to publish a partition to storage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"dataset", "backend"},
		),
		PipelineDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Total time of a partition run (extract + load + bookkeeping)",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"dataset"},
		),
		RowsExtracted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_extracted_total",
				Help:      "Total number of rows written to artifacts",
			},
			[]string{"dataset"},
		),
		PartitionRows: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partition_rows",
				Help:      "Number of rows per partition",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 12), // 1 to ~4M
			},
			[]string{"dataset"},
		),
		PartitionBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partition_bytes",
				Help:      "Size of published objects in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 20), // 1KB to ~512MB
			},
			[]string{"dataset"},
		),
		InFlightPartitions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_partitions",
				Help:      "Number of partitions currently being processed",
			},
		),
		SourceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of source errors, by kind",
			},
			[]string{"dataset", "kind"},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage write errors",
			},
			[]string{"dataset", "backend", "retryable"},
		),
		MetadataErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_errors_total",
				Help:      "Total number of metadata catalog errors",
			},
			[]string{"dataset"},
		),
		AuditErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_errors_total",
				Help:      "Total number of audit emission errors",
			},
			[]string{"dataset"},
		),
		CleanupErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_cleanup_errors_total",
				Help:      "Local artifacts that could not be removed",
			},
			[]string{"dataset"},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	return http.ListenAndServe(address, Handler())
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Dataset string
	Backend string
	Step    string
	Kind    string
}

// IncPartitionsPublished increments the published counter and records the start.
func (m *Metrics) IncPartitionsPublished(l Labels, startUnix float64) {
	m.PartitionsPublished.WithLabelValues(l.Dataset).Inc()
	m.LastPublishedStart.WithLabelValues(l.Dataset).Set(startUnix)
}

// IncPartitionsFailed increments the failed counter for a step.
func (m *Metrics) IncPartitionsFailed(l Labels) {
	m.PartitionsFailed.WithLabelValues(l.Dataset, l.Step).Inc()
}

// IncObjectsReplaced counts an overwrite, and whether the payload was identical.
func (m *Metrics) IncObjectsReplaced(l Labels, unchanged bool) {
	m.ObjectsReplaced.WithLabelValues(l.Dataset).Inc()
	if unchanged {
		m.ObjectsUnchanged.WithLabelValues(l.Dataset).Inc()
	}
}

// ObserveExtract records an extraction.
func (m *Metrics) ObserveExtract(l Labels, seconds float64, rows int64) {
	m.ExtractDuration.WithLabelValues(l.Dataset).Observe(seconds)
	m.RowsExtracted.WithLabelValues(l.Dataset).Add(float64(rows))
	m.PartitionRows.WithLabelValues(l.Dataset).Observe(float64(rows))
}

// ObserveUpload records a publish.
func (m *Metrics) ObserveUpload(l Labels, seconds float64, bytes int64) {
	m.UploadDuration.WithLabelValues(l.Dataset, l.Backend).Observe(seconds)
	m.PartitionBytes.WithLabelValues(l.Dataset).Observe(float64(bytes))
}

// ObservePipelineDuration records the total partition run time.
func (m *Metrics) ObservePipelineDuration(l Labels, seconds float64) {
	m.PipelineDuration.WithLabelValues(l.Dataset).Observe(seconds)
}

// IncInFlight and DecInFlight track concurrently running partitions.
func (m *Metrics) IncInFlight() { m.InFlightPartitions.Inc() }
func (m *Metrics) DecInFlight() { m.InFlightPartitions.Dec() }

// IncSourceErrors increments the source errors counter.
func (m *Metrics) IncSourceErrors(l Labels) {
	m.SourceErrors.WithLabelValues(l.Dataset, l.Kind).Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels, retryable bool) {
	r := "false"
	if retryable {
		r = "true"
	}
	m.StorageErrors.WithLabelValues(l.Dataset, l.Backend, r).Inc()
}

// IncMetadataErrors increments the metadata errors counter.
func (m *Metrics) IncMetadataErrors(l Labels) {
	m.MetadataErrors.WithLabelValues(l.Dataset).Inc()
}

// IncAuditErrors increments the audit errors counter.
func (m *Metrics) IncAuditErrors(l Labels) {
	m.AuditErrors.WithLabelValues(l.Dataset).Inc()
}

// IncCleanupErrors increments the artifact cleanup errors counter.
func (m *Metrics) IncCleanupErrors(l Labels) {
	m.CleanupErrors.WithLabelValues(l.Dataset).Inc()
}
