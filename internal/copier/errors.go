package copier

import (
	"errors"
	"fmt"
)

// SourceConnectionError means the source could not be reached, the
// connection dropped, or the extraction timed out.
type SourceConnectionError struct {
	Err error
}

func (e *SourceConnectionError) Error() string {
	return fmt.Sprintf("source connection: %v", e.Err)
}

func (e *SourceConnectionError) Unwrap() error { return e.Err }

// SourceQueryError means the source rejected the range query.
type SourceQueryError struct {
	Err error
}

func (e *SourceQueryError) Error() string {
	return fmt.Sprintf("source query: %v", e.Err)
}

func (e *SourceQueryError) Unwrap() error { return e.Err }

// ArtifactWriteError means the local artifact could not be created or written.
type ArtifactWriteError struct {
	Path string
	Err  error
}

func (e *ArtifactWriteError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("artifact write: %v", e.Err)
	}
	return fmt.Sprintf("artifact write %s: %v", e.Path, e.Err)
}

func (e *ArtifactWriteError) Unwrap() error { return e.Err }

// ArtifactNotFoundError means an ArtifactRef is stale: its file is missing or
// no longer matches what the Extractor wrote.
type ArtifactNotFoundError struct {
	Path string
	Err  error
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact %s not usable: %v", e.Path, e.Err)
}

func (e *ArtifactNotFoundError) Unwrap() error { return e.Err }

// UploadError means the destination rejected the write.
type UploadError struct {
	Key       string
	Retryable bool
	Err       error
}

func (e *UploadError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("upload %s (%s): %v", e.Key, kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// RecordError means a strict catalog or audit write failed after publish.
type RecordError struct {
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record partition: %v", e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Retryable reports whether an orchestrator can expect a fresh run to succeed:
// connection faults and retryable uploads.
func Retryable(err error) bool {
	var connErr *SourceConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var upErr *UploadError
	if errors.As(err, &upErr) {
		return upErr.Retryable
	}
	return false
}
