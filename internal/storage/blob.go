package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/obsrvr-table-copier/internal/logging"
)

// BlobSink implements ObjectSink over a gocloud.dev bucket.
type BlobSink struct {
	bucket     *blob.Bucket
	bucketName string
	uriPrefix  string // e.g. "s3://orders-bucket/"
}

// NewBlobSink wraps an open bucket. The sink takes ownership of the bucket.
func NewBlobSink(bucket *blob.Bucket, bucketName, uriPrefix string) *BlobSink {
	return &BlobSink{
		bucket:     bucket,
		bucketName: bucketName,
		uriPrefix:  uriPrefix,
	}
}

// Put writes r to key. gocloud writers commit on Close, so a failed or
// cancelled Put never exposes a partial object.
//
// With Overwrite set the existence check is best-effort: if the previous
// object cannot be inspected the write still happens and ReplacedExisting is
// false.
func (s *BlobSink) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (*PutResult, error) {
	prev, err := s.Head(ctx, key)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		if !opts.Overwrite || ctx.Err() != nil {
			return nil, err
		}
		logging.Component("storage").Warn("existence check failed, overwriting anyway",
			"key", key,
			"error", err,
		)
		prev = nil
	}
	if prev != nil && !opts.Overwrite {
		return nil, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}

	// Cancelling the writer's context before Close discards the upload.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", key, err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		w.Close()
		return nil, fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer for %s: %w", key, err)
	}

	return &PutResult{
		Key:              key,
		BytesWritten:     n,
		ReplacedExisting: prev != nil,
		Previous:         prev,
	}, nil
}

// Head returns metadata about a stored object.
func (s *BlobSink) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:         key,
		Size:        attrs.Size,
		ETag:        attrs.ETag,
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
		ModTime:     attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix.
func (s *BlobSink) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

// Read returns the full contents of an object.
func (s *BlobSink) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Bucket returns the bucket name.
func (s *BlobSink) Bucket() string {
	return s.bucketName
}

// URI returns the canonical URI for the given key.
func (s *BlobSink) URI(key string) string {
	return s.uriPrefix + key
}

// Close releases the bucket connection.
func (s *BlobSink) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// IsRetryable reports whether a storage error is worth retrying.
// Auth, validation and missing-bucket failures are permanent; throttling,
// timeouts and unclassified transport faults are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrObjectExists) || errors.Is(err, ErrObjectNotFound) {
		return false
	}

	// gocloud has no "unavailable" code; 5xx responses surface as Unknown.
	switch gcerrors.Code(err) {
	case gcerrors.DeadlineExceeded, gcerrors.ResourceExhausted,
		gcerrors.Internal, gcerrors.Unknown:
		return true
	default:
		return false
	}
}
