package copier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-table-copier/internal/artifact"
	"github.com/withObsrvr/obsrvr-table-copier/internal/logging"
	"github.com/withObsrvr/obsrvr-table-copier/internal/source"
)

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	Dataset string

	// QueryTimeout bounds the whole extraction. Zero means no timeout.
	QueryTimeout time.Duration

	// BoundLayout, when set, passes interval bounds to the source as strings
	// in this layout, for partition columns stored as text.
	BoundLayout string
}

// Extractor materialises one partition of the source table into a local artifact.
type Extractor struct {
	store *artifact.Store
	cfg   ExtractorConfig
	log   *slog.Logger
}

// NewExtractor creates an Extractor writing into store.
func NewExtractor(store *artifact.Store, cfg ExtractorConfig) *Extractor {
	return &Extractor{
		store: store,
		cfg:   cfg,
		log:   logging.Component("extractor"),
	}
}

// Extract runs a single range query for [interval.Start, interval.End) and
// streams every row into a fresh artifact. An empty range still produces a
// header-only artifact. On any failure the partial artifact is discarded and
// no ArtifactRef is returned.
func (e *Extractor) Extract(ctx context.Context, interval PartitionInterval, src source.QueryableSource) (*ArtifactRef, error) {
	if err := interval.Validate(); err != nil {
		return nil, err
	}
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	log := e.log.With("interval", interval.String())
	started := time.Now()

	sess, err := src.Open(ctx)
	if err != nil {
		return nil, &SourceConnectionError{Err: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("failed to release source session", "error", cerr)
		}
	}()

	lower, upper := e.bounds(interval)
	cur, err := sess.QueryRange(ctx, lower, upper)
	if err != nil {
		return nil, classifySourceError(ctx, err)
	}
	defer cur.Close()

	columns := append([]string(nil), cur.Columns()...)

	w, err := e.store.Create(e.cfg.Dataset, interval.Start)
	if err != nil {
		return nil, &ArtifactWriteError{Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if derr := w.Discard(); derr != nil {
			log.Warn("failed to discard partial artifact", "path", w.Path(), "error", derr)
		}
	}()

	if err := w.WriteHeader(columns); err != nil {
		return nil, &ArtifactWriteError{Path: w.Path(), Err: err}
	}

	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return nil, &SourceConnectionError{Err: err}
		}
		values, err := cur.Values()
		if err != nil {
			return nil, classifySourceError(ctx, err)
		}
		if err := w.WriteRow(values); err != nil {
			return nil, &ArtifactWriteError{Path: w.Path(), Err: err}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, classifySourceError(ctx, err)
	}

	info, err := w.Close()
	if err != nil {
		return nil, &ArtifactWriteError{Path: w.Path(), Err: err}
	}
	committed = true

	log.Info("extracted partition",
		"path", info.Path,
		"rows", info.Rows,
		"bytes", info.Bytes,
		"duration", time.Since(started),
	)

	return &ArtifactRef{
		Path:      info.Path,
		Dataset:   e.cfg.Dataset,
		Partition: interval,
		RowCount:  info.Rows,
		Columns:   columns,
		ByteSize:  info.Bytes,
		Checksum:  info.Checksum,
		RunID:     logging.CorrelationID(ctx),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (e *Extractor) bounds(interval PartitionInterval) (any, any) {
	if e.cfg.BoundLayout != "" {
		return interval.Start.UTC().Format(e.cfg.BoundLayout), interval.End.UTC().Format(e.cfg.BoundLayout)
	}
	return interval.Start.UTC(), interval.End.UTC()
}

// classifySourceError separates connectivity faults (including an expired
// context) from queries the source rejected.
func classifySourceError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	if ctx.Err() != nil || source.IsConnectionError(err) {
		return &SourceConnectionError{Err: err}
	}
	return &SourceQueryError{Err: err}
}
