package metadata

import (
	"context"
	"log/slog"
)

// CatalogConfig configures the lineage catalog.
type CatalogConfig struct {
	PostgresDSN string
}

// Writer records dataset and partition lineage.
type Writer interface {
	// EnsureDataset registers the dataset and returns its id.
	EnsureDataset(ctx context.Context, info DatasetInfo) (int64, error)

	// RecordPartition upserts the lineage row for a published partition.
	RecordPartition(ctx context.Context, rec PartitionRecord) error

	// InsertQuality upserts a validation outcome.
	InsertQuality(ctx context.Context, rec QualityRecord) error

	// LastPartition returns the most recently started partition, or nil.
	LastPartition(ctx context.Context, datasetID int64) (*PartitionRecord, error)

	Close() error
}

// NewWriter returns a PostgreSQL writer, or a no-op writer when no DSN is
// configured or the catalog is unreachable.
func NewWriter(ctx context.Context, cfg CatalogConfig) Writer {
	if cfg.PostgresDSN == "" {
		return noopWriter{}
	}
	w, err := NewPostgresWriter(ctx, cfg)
	if err != nil {
		slog.Warn("catalog unavailable, lineage disabled", "error", err)
		return noopWriter{}
	}
	return w
}

type noopWriter struct{}

func (noopWriter) EnsureDataset(context.Context, DatasetInfo) (int64, error)  { return 0, nil }
func (noopWriter) RecordPartition(context.Context, PartitionRecord) error     { return nil }
func (noopWriter) InsertQuality(context.Context, QualityRecord) error         { return nil }
func (noopWriter) Close() error                                               { return nil }
func (noopWriter) LastPartition(context.Context, int64) (*PartitionRecord, error) {
	return nil, nil
}
