// Package storage publishes objects to a bucket through gocloud.dev/blob.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrObjectExists is returned by Put when overwrite is disabled and the key is taken.
	ErrObjectExists = errors.New("object already exists")

	// ErrObjectNotFound is returned by Head for a missing key.
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectSink is the destination of published partitions.
type ObjectSink interface {
	// Put writes the full contents of r under key. The object becomes visible
	// only once the write completes; a failed Put leaves any previous object intact.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (*PutResult, error)

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns all keys with the given prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Bucket returns the bucket or container name.
	Bucket() string

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// PutOptions controls a single Put.
type PutOptions struct {
	Overwrite   bool
	ContentType string
	Metadata    map[string]string
}

// PutResult describes a completed Put.
type PutResult struct {
	Key          string
	BytesWritten int64

	// ReplacedExisting is true only when an object was observed at the key
	// before the write.
	ReplacedExisting bool

	// Previous holds the replaced object's metadata, if any.
	Previous *ObjectInfo
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
	Metadata    map[string]string
	ModTime     time.Time
}

// Config configures the storage backend.
type Config struct {
	Backend string // "local" | "gcs" | "s3" | "mem"
	Bucket  string

	// Local filesystem root; the bucket is a directory beneath it.
	LocalDir string

	// S3 (also works for B2, R2, MinIO)
	Endpoint string
	Region   string
}

// Open creates an object sink based on configuration.
func Open(ctx context.Context, cfg Config) (*BlobSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required for %s backend", cfg.Backend)
	}

	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return OpenLocal(cfg.LocalDir, cfg.Bucket)
	case "gcs":
		return OpenGCS(ctx, cfg.Bucket)
	case "s3":
		return OpenS3(ctx, cfg.Bucket, cfg.Endpoint, cfg.Region)
	case "mem":
		return OpenMem(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
