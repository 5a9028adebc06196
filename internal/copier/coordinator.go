package copier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-table-copier/internal/artifact"
	"github.com/withObsrvr/obsrvr-table-copier/internal/audit"
	"github.com/withObsrvr/obsrvr-table-copier/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-table-copier/internal/logging"
	"github.com/withObsrvr/obsrvr-table-copier/internal/metadata"
	"github.com/withObsrvr/obsrvr-table-copier/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-copier/internal/source"
	"github.com/withObsrvr/obsrvr-table-copier/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Options tunes a Coordinator.
type Options struct {
	Dataset  string
	CopierID string
	Backend  string // storage backend, for metrics labels

	// RetainOnFailure keeps the artifact after a failed load for inspection.
	RetainOnFailure bool

	// StrictCatalog and StrictAudit turn post-publish bookkeeping failures
	// into run failures at StepRecord.
	StrictCatalog bool
	StrictAudit   bool
}

// Deps are the collaborators of a Coordinator. Catalog, Audit, Checkpoint and
// Metrics are optional.
type Deps struct {
	Store     *artifact.Store
	Extractor *Extractor
	Loader    *Loader
	Source    source.QueryableSource
	Sink      storage.ObjectSink

	Catalog    metadata.Writer
	Audit      audit.Emitter
	Checkpoint checkpoint.Manager
	Metrics    *metrics.Metrics
}

// Coordinator runs one partition through extract then load.
// Run is safe to call concurrently for different intervals.
type Coordinator struct {
	opts       Options
	store      *artifact.Store
	extractor  *Extractor
	loader     *Loader
	src        source.QueryableSource
	sink       storage.ObjectSink
	meta       metadata.Writer
	audit      audit.Emitter
	checkpoint checkpoint.Manager
	metrics    *metrics.Metrics
	datasetID  int64 // cached dataset ID from catalog
	log        *slog.Logger
}

// NewCoordinator wires a Coordinator, substituting no-op bookkeeping for missing deps.
func NewCoordinator(deps Deps, opts Options) *Coordinator {
	c := &Coordinator{
		opts:       opts,
		store:      deps.Store,
		extractor:  deps.Extractor,
		loader:     deps.Loader,
		src:        deps.Source,
		sink:       deps.Sink,
		meta:       deps.Catalog,
		audit:      deps.Audit,
		checkpoint: deps.Checkpoint,
		metrics:    deps.Metrics,
		log:        logging.Component("coordinator").With("dataset", opts.Dataset),
	}
	if c.meta == nil {
		c.meta = metadata.NewWriter(context.Background(), metadata.CatalogConfig{})
	}
	if c.audit == nil {
		c.audit = audit.NewEmitter(audit.Config{})
	}
	if c.checkpoint == nil {
		c.checkpoint, _ = checkpoint.NewManager(checkpoint.Config{})
	}
	return c
}

// Init registers the dataset with the catalog. A catalog failure is only
// fatal when the catalog is strict.
func (c *Coordinator) Init(ctx context.Context) error {
	desc := c.src.Describe()
	id, err := c.meta.EnsureDataset(ctx, metadata.DatasetInfo{
		Dataset:         c.opts.Dataset,
		SourceDriver:    desc.Driver,
		SourceTable:     desc.Table,
		PartitionColumn: desc.PartitionColumn,
		Bucket:          c.sink.Bucket(),
		KeyPrefix:       c.loader.Prefix(),
		Description:     fmt.Sprintf("Replica of %s partitioned by %s", desc.Table, desc.PartitionColumn),
	})
	if err != nil {
		c.incMetadataErrors()
		if c.opts.StrictCatalog {
			return fmt.Errorf("register dataset: %w", err)
		}
		c.log.Warn("failed to ensure dataset in catalog", "error", err)
		return nil
	}
	c.datasetID = id
	if id > 0 {
		c.log.Info("registered dataset in catalog", "dataset_id", id)
	}
	return nil
}

// Run extracts and publishes one partition. Extraction always completes
// before the load starts, and the load receives exactly the ArtifactRef the
// extraction produced. On failure the result names the failed step and the
// returned error is the step's error unchanged.
func (c *Coordinator) Run(ctx context.Context, interval PartitionInterval) (*PipelineResult, error) {
	runID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, runID)
	log := logging.PartitionLogger(runID, c.opts.Dataset, interval.Start, interval.End)

	result := &PipelineResult{RunID: runID, Partition: interval}
	started := time.Now()
	defer func() { result.Duration = time.Since(started) }()

	if err := interval.Validate(); err != nil {
		return c.fail(result, StepExtract, err, log)
	}

	if c.metrics != nil {
		c.metrics.IncInFlight()
		defer c.metrics.DecInFlight()
	}

	log.Info("starting partition run")

	extractStart := time.Now()
	ref, err := c.extractor.Extract(ctx, interval, c.src)
	if err != nil {
		return c.fail(result, StepExtract, err, log)
	}
	result.Artifact = ref
	if c.metrics != nil {
		c.metrics.ObserveExtract(c.labels(""), time.Since(extractStart).Seconds(), ref.RowCount)
	}

	uploadStart := time.Now()
	up, err := c.loader.Load(ctx, *ref, c.sink)
	if err != nil {
		if c.opts.RetainOnFailure {
			log.Info("retaining artifact after failed load", "path", ref.Path)
		} else {
			c.cleanup(ref, log)
		}
		return c.fail(result, StepLoad, err, log)
	}
	result.Upload = up
	if c.metrics != nil {
		c.metrics.ObserveUpload(c.labels(""), time.Since(uploadStart).Seconds(), up.BytesWritten)
	}

	c.cleanup(ref, log)

	if err := c.record(ctx, result, log); err != nil {
		return c.fail(result, StepRecord, err, log)
	}

	if c.metrics != nil {
		l := c.labels("")
		c.metrics.IncPartitionsPublished(l, float64(interval.Start.Unix()))
		if up.ReplacedExisting {
			c.metrics.IncObjectsReplaced(l, up.Unchanged)
		}
		c.metrics.ObservePipelineDuration(l, time.Since(started).Seconds())
	}

	log.Info("partition run complete",
		"key", up.Key,
		"rows", up.RowCount,
		"bytes", up.BytesWritten,
		"replaced", up.ReplacedExisting,
		"unchanged", up.Unchanged,
		"duration", time.Since(started),
	)
	return result, nil
}

func (c *Coordinator) fail(result *PipelineResult, step Step, err error, log *slog.Logger) (*PipelineResult, error) {
	result.FailedStep = step
	result.Err = err
	log.Error("partition run failed", "step", step, "retryable", Retryable(err), "error", err)

	if c.metrics != nil {
		c.metrics.IncPartitionsFailed(c.labels(step))
		var connErr *SourceConnectionError
		var queryErr *SourceQueryError
		var upErr *UploadError
		switch {
		case errors.As(err, &connErr):
			c.metrics.IncSourceErrors(metrics.Labels{Dataset: c.opts.Dataset, Kind: "connection"})
		case errors.As(err, &queryErr):
			c.metrics.IncSourceErrors(metrics.Labels{Dataset: c.opts.Dataset, Kind: "query"})
		case errors.As(err, &upErr):
			c.metrics.IncStorageErrors(c.labels(step), upErr.Retryable)
		}
	}
	return result, err
}

// cleanup removes a consumed artifact. Failure here never fails the run.
func (c *Coordinator) cleanup(ref *ArtifactRef, log *slog.Logger) {
	if err := c.store.Remove(ref.Path); err != nil {
		log.Warn("failed to remove artifact", "path", ref.Path, "error", err)
		if c.metrics != nil {
			c.metrics.IncCleanupErrors(c.labels(""))
		}
	}
}

// record writes lineage, quality, audit and checkpoint state for a published
// partition. Only strict catalog or audit failures are returned.
func (c *Coordinator) record(ctx context.Context, result *PipelineResult, log *slog.Logger) error {
	ref, up := result.Artifact, result.Upload
	interval := result.Partition

	if c.datasetID > 0 {
		err := c.meta.RecordPartition(ctx, metadata.PartitionRecord{
			DatasetID:        c.datasetID,
			IntervalStart:    interval.Start,
			IntervalEnd:      interval.End,
			RowCount:         up.RowCount,
			ByteSize:         up.BytesWritten,
			Checksum:         up.Checksum,
			ObjectKey:        up.Key,
			StorageURI:       up.URI,
			ReplacedExisting: up.ReplacedExisting,
			RunID:            result.RunID,
			ProducerVersion:  Version,
			ProducerGitSHA:   GitSHA,
			SourceType:       c.src.Describe().Driver,
			SourceLocation:   c.src.Describe().Table,
			PublishedAt:      time.Now().UTC(),
		})
		if err == nil {
			err = RecordQualityResult(ctx, c.meta, c.datasetID, interval, ValidationResult{
				Passed:   true,
				RowCount: ref.RowCount,
				ByteSize: ref.ByteSize,
			})
		}
		if err != nil {
			c.incMetadataErrors()
			if c.opts.StrictCatalog {
				return &RecordError{Err: fmt.Errorf("catalog: %w", err)}
			}
			log.Warn("failed to record lineage", "error", err)
		}
	}

	err := c.audit.EmitPartition(ctx, audit.Event{
		Dataset:          c.opts.Dataset,
		IntervalStart:    interval.Start,
		IntervalEnd:      interval.End,
		Key:              up.Key,
		URI:              up.URI,
		Checksum:         up.Checksum,
		RowCount:         up.RowCount,
		ByteSize:         up.BytesWritten,
		ReplacedExisting: up.ReplacedExisting,
		Unchanged:        up.Unchanged,
		Producer: audit.ProducerInfo{
			Name:    "table-copier",
			Version: Version,
			GitSHA:  GitSHA,
			RunID:   result.RunID,
		},
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncAuditErrors(c.labels(""))
		}
		if c.opts.StrictAudit {
			return &RecordError{Err: fmt.Errorf("audit: %w", err)}
		}
		log.Warn("failed to emit audit event", "error", err)
	}

	advanced, err := c.checkpoint.Advance(ctx, &checkpoint.Checkpoint{
		CopierID: c.opts.CopierID,
		Dataset:  c.opts.Dataset,
		LastPartition: &checkpoint.PartitionInfo{
			Start:    interval.Start,
			End:      interval.End,
			Key:      up.Key,
			Checksum: up.Checksum,
		},
	})
	if err != nil {
		log.Warn("failed to save checkpoint", "error", err)
	} else if advanced {
		log.Debug("checkpoint advanced", "end", interval.End)
	}
	return nil
}

func (c *Coordinator) labels(step Step) metrics.Labels {
	return metrics.Labels{Dataset: c.opts.Dataset, Backend: c.opts.Backend, Step: string(step)}
}

func (c *Coordinator) incMetadataErrors() {
	if c.metrics != nil {
		c.metrics.IncMetadataErrors(c.labels(""))
	}
}
