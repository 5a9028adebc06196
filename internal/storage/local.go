package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
)

// OpenLocal opens a directory-backed bucket at baseDir/bucketName.
// fileblob writes to a temp file and renames on Close, and keeps
// metadata in sidecar .attrs files.
func OpenLocal(baseDir, bucketName string) (*BlobSink, error) {
	dir, err := filepath.Abs(filepath.Join(baseDir, bucketName))
	if err != nil {
		return nil, fmt.Errorf("resolve local bucket path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local bucket %s: %w", dir, err)
	}

	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open local bucket %s: %w", dir, err)
	}

	return NewBlobSink(bucket, bucketName, "file://"+filepath.ToSlash(dir)+"/"), nil
}

// OpenMem opens an in-process bucket. Used for dry runs and tests.
func OpenMem(bucketName string) *BlobSink {
	return NewBlobSink(memblob.OpenBucket(nil), bucketName, fmt.Sprintf("mem://%s/", bucketName))
}
