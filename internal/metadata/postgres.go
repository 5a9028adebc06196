package metadata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool         *pgxpool.Pool
	mu           sync.RWMutex
	datasetCache map[string]int64
	log          *slog.Logger
}

// NewPostgresWriter connects to the catalog and creates its tables.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log := slog.With("component", "catalog")
	log.Info("connected to PostgreSQL catalog")

	return &PostgresWriter{
		pool:         pool,
		datasetCache: make(map[string]int64),
		log:          log,
	}, nil
}

// EnsureDataset registers or retrieves a dataset entry.
func (w *PostgresWriter) EnsureDataset(ctx context.Context, info DatasetInfo) (int64, error) {
	w.mu.RLock()
	if id, ok := w.datasetCache[info.Dataset]; ok {
		w.mu.RUnlock()
		return id, nil
	}
	w.mu.RUnlock()

	query := `
		INSERT INTO _meta_datasets (dataset, source_driver, source_table, partition_column, bucket, key_prefix, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dataset)
		DO UPDATE SET
			source_driver = EXCLUDED.source_driver,
			source_table = EXCLUDED.source_table,
			partition_column = EXCLUDED.partition_column,
			bucket = EXCLUDED.bucket,
			key_prefix = EXCLUDED.key_prefix,
			updated_at = NOW()
		RETURNING id
	`

	var id int64
	err := w.pool.QueryRow(ctx, query,
		info.Dataset,
		info.SourceDriver,
		info.SourceTable,
		info.PartitionColumn,
		info.Bucket,
		info.KeyPrefix,
		info.Description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure dataset: %w", err)
	}

	w.mu.Lock()
	w.datasetCache[info.Dataset] = id
	w.mu.Unlock()

	return id, nil
}

// RecordPartition writes the lineage row for a published partition.
func (w *PostgresWriter) RecordPartition(ctx context.Context, rec PartitionRecord) error {
	if rec.DatasetID == 0 {
		return errors.New("DatasetID is required (call EnsureDataset first)")
	}

	query := `
		INSERT INTO _meta_partitions (
			dataset_id, interval_start, interval_end, row_count, byte_size,
			checksum, object_key, storage_uri, replaced_existing, run_id,
			producer_version, producer_git_sha, source_type, source_location
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dataset_id, interval_start)
		DO UPDATE SET
			interval_end = EXCLUDED.interval_end,
			row_count = EXCLUDED.row_count,
			byte_size = EXCLUDED.byte_size,
			checksum = EXCLUDED.checksum,
			storage_uri = EXCLUDED.storage_uri,
			replaced_existing = EXCLUDED.replaced_existing,
			run_id = EXCLUDED.run_id,
			producer_version = EXCLUDED.producer_version,
			producer_git_sha = EXCLUDED.producer_git_sha,
			published_at = NOW()
	`

	var storageURI *string
	if rec.StorageURI != "" {
		storageURI = &rec.StorageURI
	}

	_, err := w.pool.Exec(ctx, query,
		rec.DatasetID,
		rec.IntervalStart.UTC(),
		rec.IntervalEnd.UTC(),
		rec.RowCount,
		rec.ByteSize,
		rec.Checksum,
		rec.ObjectKey,
		storageURI,
		rec.ReplacedExisting,
		rec.RunID,
		rec.ProducerVersion,
		rec.ProducerGitSHA,
		rec.SourceType,
		rec.SourceLocation,
	)
	if err != nil {
		return fmt.Errorf("record partition: %w", err)
	}

	w.log.Debug("recorded lineage", "key", rec.ObjectKey, "rows", rec.RowCount)
	return nil
}

// InsertQuality records a validation result.
func (w *PostgresWriter) InsertQuality(ctx context.Context, rec QualityRecord) error {
	query := `
		INSERT INTO _meta_quality (dataset_id, interval_start, interval_end, passed, error_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_id, interval_start)
		DO UPDATE SET
			interval_end = EXCLUDED.interval_end,
			passed = EXCLUDED.passed,
			error_message = EXCLUDED.error_message,
			created_at = NOW()
	`

	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := w.pool.Exec(ctx, query,
		rec.DatasetID,
		rec.IntervalStart.UTC(),
		rec.IntervalEnd.UTC(),
		rec.Passed,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("insert quality: %w", err)
	}
	return nil
}

// LastPartition returns the lineage row with the latest interval start.
func (w *PostgresWriter) LastPartition(ctx context.Context, datasetID int64) (*PartitionRecord, error) {
	query := `
		SELECT interval_start, interval_end, row_count, byte_size, checksum,
		       object_key, COALESCE(storage_uri, ''), replaced_existing,
		       COALESCE(run_id, ''), producer_version, COALESCE(producer_git_sha, ''),
		       COALESCE(source_type, ''), COALESCE(source_location, ''), published_at
		FROM _meta_partitions
		WHERE dataset_id = $1
		ORDER BY interval_start DESC
		LIMIT 1
	`

	rec := PartitionRecord{DatasetID: datasetID}
	err := w.pool.QueryRow(ctx, query, datasetID).Scan(
		&rec.IntervalStart, &rec.IntervalEnd, &rec.RowCount, &rec.ByteSize,
		&rec.Checksum, &rec.ObjectKey, &rec.StorageURI, &rec.ReplacedExisting,
		&rec.RunID, &rec.ProducerVersion, &rec.ProducerGitSHA,
		&rec.SourceType, &rec.SourceLocation, &rec.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last partition: %w", err)
	}
	return &rec, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
