package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/obsrvr-table-copier/internal/artifact"
	"github.com/withObsrvr/obsrvr-table-copier/internal/logging"
	"github.com/withObsrvr/obsrvr-table-copier/internal/storage"
	"github.com/withObsrvr/obsrvr-table-copier/internal/tables"
)

// Published formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Object metadata keys written with every published partition.
const (
	MetaChecksum      = "sha256"
	MetaRows          = "rows"
	MetaIntervalStart = "interval-start"
	MetaIntervalEnd   = "interval-end"
	MetaDataset       = "dataset"
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Dataset string
	Prefix  string // key prefix, e.g. "orders"

	// Format is "csv" (the artifact verbatim) or "parquet".
	Format string

	// Compression applies to csv as "none", "gzip" or "zstd", and selects the
	// parquet page codec ("snappy", "zstd", "gzip", "none") for parquet.
	Compression string

	NullToken     string // defaults to the artifact store's token
	UploadTimeout time.Duration
}

// Loader publishes artifacts to an object sink.
type Loader struct {
	store *artifact.Store
	cfg   LoaderConfig
	ext   string
	log   *slog.Logger
}

// NewLoader validates the format and compression combination.
func NewLoader(store *artifact.Store, cfg LoaderConfig) (*Loader, error) {
	if cfg.Format == "" {
		cfg.Format = FormatCSV
	}
	var ext string
	switch cfg.Format {
	case FormatCSV:
		switch cfg.Compression {
		case "", "none":
			cfg.Compression = "none"
			ext = "csv"
		case "gzip":
			ext = "csv.gz"
		case "zstd":
			ext = "csv.zst"
		default:
			return nil, fmt.Errorf("unsupported csv compression %q", cfg.Compression)
		}
	case FormatParquet:
		switch cfg.Compression {
		case "":
			cfg.Compression = "snappy"
		case "snappy", "zstd", "gzip", "none":
		default:
			return nil, fmt.Errorf("unsupported parquet compression %q", cfg.Compression)
		}
		ext = "parquet"
	default:
		return nil, fmt.Errorf("unsupported format %q", cfg.Format)
	}
	if cfg.NullToken == "" && store != nil {
		cfg.NullToken = store.NullToken()
	}

	return &Loader{
		store: store,
		cfg:   cfg,
		ext:   ext,
		log:   logging.Component("loader"),
	}, nil
}

// Extension returns the object extension for the configured format.
func (l *Loader) Extension() string {
	return l.ext
}

// Prefix returns the configured key prefix.
func (l *Loader) Prefix() string {
	return l.cfg.Prefix
}

// KeyFor returns the destination key of the partition starting at start.
func (l *Loader) KeyFor(start time.Time) string {
	return ObjectKey(l.cfg.Prefix, start, l.ext)
}

// Load publishes the artifact behind ref under the key derived from its
// partition start, replacing any existing object. Loading the same partition
// twice leaves the second payload in place. The artifact itself is never removed.
func (l *Loader) Load(ctx context.Context, ref ArtifactRef, dst storage.ObjectSink) (*UploadResult, error) {
	if check := ValidateArtifact(l.store, ref); !check.Passed {
		var err error = errors.New(check.Summary())
		if _, statErr := l.store.Stat(ref.Path); errors.Is(statErr, artifact.ErrNotFound) {
			err = statErr
		}
		return nil, &ArtifactNotFoundError{Path: ref.Path, Err: err}
	}

	key := l.KeyFor(ref.Partition.Start)
	log := l.log.With("key", key, "interval", ref.Partition.String())
	started := time.Now()

	payload, checksum, cleanup, err := l.payload(ref)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if l.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.UploadTimeout)
		defer cancel()
	}

	res, err := dst.Put(ctx, key, payload, storage.PutOptions{
		Overwrite:   true,
		ContentType: l.contentType(),
		Metadata: map[string]string{
			MetaChecksum:      tables.ChecksumHex(checksum),
			MetaRows:          strconv.FormatInt(ref.RowCount, 10),
			MetaIntervalStart: ref.Partition.Start.UTC().Format(time.RFC3339Nano),
			MetaIntervalEnd:   ref.Partition.End.UTC().Format(time.RFC3339Nano),
			MetaDataset:       l.cfg.Dataset,
		},
	})
	if err != nil {
		retryable := storage.IsRetryable(err) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		return nil, &UploadError{Key: key, Retryable: retryable, Err: err}
	}

	unchanged := res.Previous != nil && res.Previous.Metadata[MetaChecksum] == tables.ChecksumHex(checksum)

	log.Info("published partition",
		"uri", dst.URI(key),
		"rows", ref.RowCount,
		"bytes", res.BytesWritten,
		"replaced", res.ReplacedExisting,
		"unchanged", unchanged,
		"duration", time.Since(started),
	)

	return &UploadResult{
		Key:              key,
		URI:              dst.URI(key),
		Bucket:           dst.Bucket(),
		Format:           l.ext,
		BytesWritten:     res.BytesWritten,
		RowCount:         ref.RowCount,
		Checksum:         checksum,
		ReplacedExisting: res.ReplacedExisting,
		Unchanged:        unchanged,
	}, nil
}

// payload returns a reader over the bytes to publish and their checksum.
// Encoded formats are staged next to the artifact and removed by cleanup.
func (l *Loader) payload(ref ArtifactRef) (io.Reader, string, func(), error) {
	src, err := l.store.Open(ref.Path)
	if err != nil {
		return nil, "", nil, &ArtifactNotFoundError{Path: ref.Path, Err: err}
	}

	if l.cfg.Format == FormatCSV && l.cfg.Compression == "none" {
		return src, ref.Checksum, func() { src.Close() }, nil
	}
	defer src.Close()

	staged, err := os.CreateTemp(l.store.Dir(), "payload-*.tmp")
	if err != nil {
		return nil, "", nil, &ArtifactWriteError{Err: fmt.Errorf("stage payload: %w", err)}
	}
	cleanup := func() {
		staged.Close()
		os.Remove(staged.Name())
	}

	h := tables.NewHasher()
	if err := l.encode(io.MultiWriter(staged, h), src, ref); err != nil {
		cleanup()
		return nil, "", nil, &ArtifactWriteError{Path: staged.Name(), Err: err}
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, "", nil, &ArtifactWriteError{Path: staged.Name(), Err: err}
	}
	return staged, tables.FormatChecksum(h), cleanup, nil
}

func (l *Loader) encode(w io.Writer, src io.Reader, ref ArtifactRef) error {
	switch {
	case l.cfg.Format == FormatParquet:
		r, err := artifact.NewReader(src)
		if err != nil {
			return err
		}
		cfg := tables.DefaultParquetConfig()
		cfg.Name = l.cfg.Dataset
		cfg.Compression = l.cfg.Compression
		cfg.NullToken = l.cfg.NullToken
		cfg.Metadata = map[string]string{
			"table_copier.interval_start":    ref.Partition.Start.UTC().Format(time.RFC3339Nano),
			"table_copier.interval_end":      ref.Partition.End.UTC().Format(time.RFC3339Nano),
			"table_copier.artifact_checksum": ref.Checksum,
		}
		n, err := tables.ToParquet(w, r.Columns(), r.Next, cfg)
		if err != nil {
			return fmt.Errorf("encode parquet: %w", err)
		}
		if n != ref.RowCount {
			return fmt.Errorf("encoded %d rows, artifact has %d", n, ref.RowCount)
		}
		return nil

	case l.cfg.Compression == "gzip":
		zw := gzip.NewWriter(w)
		if _, err := io.Copy(zw, src); err != nil {
			zw.Close()
			return fmt.Errorf("gzip payload: %w", err)
		}
		return zw.Close()

	case l.cfg.Compression == "zstd":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		if _, err := io.Copy(zw, src); err != nil {
			zw.Close()
			return fmt.Errorf("zstd payload: %w", err)
		}
		return zw.Close()
	}
	return fmt.Errorf("no encoder for format %s/%s", l.cfg.Format, l.cfg.Compression)
}

func (l *Loader) contentType() string {
	switch l.ext {
	case "csv.gz":
		return "application/gzip"
	case "csv.zst":
		return "application/zstd"
	case "parquet":
		return "application/vnd.apache.parquet"
	}
	return "text/csv; charset=utf-8"
}
