package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-table-copier/internal/artifact"
	"github.com/withObsrvr/obsrvr-table-copier/internal/audit"
	"github.com/withObsrvr/obsrvr-table-copier/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-table-copier/internal/config"
	"github.com/withObsrvr/obsrvr-table-copier/internal/copier"
	"github.com/withObsrvr/obsrvr-table-copier/internal/metadata"
	"github.com/withObsrvr/obsrvr-table-copier/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-copier/internal/source"
	"github.com/withObsrvr/obsrvr-table-copier/internal/storage"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg        config.Config
	store      *artifact.Store
	src        source.QueryableSource
	sink       *storage.BlobSink
	extractor  *copier.Extractor
	loader     *copier.Loader
	meta       metadata.Writer
	audit      audit.Emitter
	checkpoint checkpoint.Manager
	coord      *copier.Coordinator
}

type wantParts struct {
	source bool
	sink   bool
}

func newApp(ctx context.Context, cfg config.Config, want wantParts) (*app, error) {
	a := &app{cfg: cfg}

	store, err := artifact.NewStore(artifact.Config{Dir: cfg.Artifacts.Dir, NullToken: cfg.Artifacts.NullToken})
	if err != nil {
		return nil, err
	}
	a.store = store

	a.extractor = copier.NewExtractor(store, copier.ExtractorConfig{
		Dataset:      cfg.Dataset,
		QueryTimeout: cfg.Source.QueryTimeout,
		BoundLayout:  cfg.Source.BoundLayout,
	})
	a.loader, err = copier.NewLoader(store, copier.LoaderConfig{
		Dataset:       cfg.Dataset,
		Prefix:        cfg.Storage.Prefix,
		Format:        cfg.Storage.Format,
		Compression:   cfg.Storage.Compression,
		NullToken:     cfg.Artifacts.NullToken,
		UploadTimeout: cfg.Storage.UploadTimeout,
	})
	if err != nil {
		return nil, err
	}

	if want.source {
		a.src, err = source.New(ctx, source.Config{
			Driver:          cfg.Source.Driver,
			DSN:             cfg.Source.DSN,
			Table:           cfg.Source.Table,
			PartitionColumn: cfg.Source.PartitionColumn,
			Columns:         cfg.Source.Columns,
			MaxConns:        cfg.Source.MaxConns,
		})
		if err != nil {
			a.close()
			return nil, &copier.SourceConnectionError{Err: err}
		}
	}

	if want.sink {
		a.sink, err = storage.Open(ctx, storage.Config{
			Backend:  cfg.Storage.Backend,
			Bucket:   cfg.Storage.Bucket,
			LocalDir: cfg.Storage.LocalDir,
			Endpoint: cfg.Storage.Endpoint,
			Region:   cfg.Storage.Region,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	a.meta = metadata.NewWriter(ctx, metadata.CatalogConfig{PostgresDSN: cfg.Catalog.PostgresDSN})
	a.audit = audit.NewEmitter(audit.Config{
		Enabled:   cfg.Audit.Enabled,
		Endpoint:  cfg.Audit.Endpoint,
		BackupDir: cfg.Audit.BackupDir,
	})
	a.checkpoint, err = checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if want.source && want.sink {
		a.coord = copier.NewCoordinator(copier.Deps{
			Store:      store,
			Extractor:  a.extractor,
			Loader:     a.loader,
			Source:     a.src,
			Sink:       a.sink,
			Catalog:    a.meta,
			Audit:      a.audit,
			Checkpoint: a.checkpoint,
			Metrics:    metrics.Get(),
		}, copier.Options{
			Dataset:         cfg.Dataset,
			CopierID:        cfg.CopierID,
			Backend:         cfg.Storage.Backend,
			RetainOnFailure: cfg.Artifacts.RetainOnFailure,
			StrictCatalog:   cfg.Catalog.Strict,
			StrictAudit:     cfg.Audit.Strict,
		})
		if err := a.coord.Init(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.src != nil {
		a.src.Close()
	}
	if a.sink != nil {
		a.sink.Close()
	}
	if a.meta != nil {
		a.meta.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
}

func (a *app) backfillOptions() copier.BackfillOptions {
	return copier.BackfillOptions{
		Concurrency:   a.cfg.Perf.MaxInFlightPartitions,
		RetryAttempts: a.cfg.Perf.RetryAttempts,
		RetryBackoff:  a.cfg.Perf.RetryBackoff,
	}
}

// runSummary is the JSON printed for each partition run.
type runSummary struct {
	RunID      string                   `json:"run_id,omitempty"`
	Partition  copier.PartitionInterval `json:"partition"`
	Status     string                   `json:"status"`
	FailedStep copier.Step              `json:"failed_step,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Retryable  bool                     `json:"retryable,omitempty"`
	Upload     *copier.UploadResult     `json:"upload,omitempty"`
	DurationMs int64                    `json:"duration_ms"`
}

func summarize(r *copier.PipelineResult) runSummary {
	s := runSummary{
		RunID:      r.RunID,
		Partition:  r.Partition,
		Status:     "published",
		Upload:     r.Upload,
		DurationMs: r.Duration.Milliseconds(),
	}
	if !r.Succeeded() {
		s.Status = "failed"
		s.FailedStep = r.FailedStep
		s.Error = r.Error()
		s.Retryable = copier.Retryable(r.Err)
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTime accepts a date (2024-01-01) or an RFC 3339 timestamp, always as UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use 2006-01-02 or RFC 3339", s)
	}
	return t.UTC(), nil
}

// intervalFromFlags builds the interval from --start/--end. When end is empty
// the interval is one cadence long; when both are empty it is the last complete interval.
func intervalFromFlags(start, end string, now time.Time) (copier.PartitionInterval, error) {
	cad := cfg.Cadence()
	if start == "" {
		if end != "" {
			return copier.PartitionInterval{}, fmt.Errorf("--end requires --start")
		}
		return cad.LastComplete(now), nil
	}
	s, err := parseTime(start)
	if err != nil {
		return copier.PartitionInterval{}, err
	}
	if end == "" {
		return copier.NewInterval(s, s.Add(cad.Every))
	}
	e, err := parseTime(end)
	if err != nil {
		return copier.PartitionInterval{}, err
	}
	return copier.NewInterval(s, e)
}

func logResults(results []*copier.PipelineResult) {
	for _, r := range results {
		if !r.Succeeded() {
			slog.Warn("partition failed", "interval", r.Partition.String(), "step", r.FailedStep, "error", r.Err)
		}
	}
}
