package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

func TestMemSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink := OpenMem("orders-bucket")
	defer sink.Close()

	res, err := sink.Put(ctx, "orders/2024-01-02.csv", strings.NewReader("id,date\n"), PutOptions{
		Overwrite:   true,
		ContentType: "text/csv",
		Metadata:    map[string]string{"rows": "0"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len("id,date\n")), res.BytesWritten)
	assert.False(t, res.ReplacedExisting)

	info, err := sink.Head(ctx, "orders/2024-01-02.csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", info.ContentType)
	assert.Equal(t, "0", info.Metadata["rows"])

	data, err := sink.Read(ctx, "orders/2024-01-02.csv")
	require.NoError(t, err)
	assert.Equal(t, "id,date\n", string(data))

	assert.Equal(t, "orders-bucket", sink.Bucket())
	assert.Equal(t, "mem://orders-bucket/orders/2024-01-02.csv", sink.URI("orders/2024-01-02.csv"))
}

func TestHeadMissing(t *testing.T) {
	sink := OpenMem("b")
	defer sink.Close()

	_, err := sink.Head(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = sink.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestListSorted(t *testing.T) {
	ctx := context.Background()
	sink := OpenMem("b")
	defer sink.Close()

	for _, k := range []string{"orders/2024-01-03.csv", "orders/2024-01-01.csv", "other/x.csv"} {
		_, err := sink.Put(ctx, k, strings.NewReader("x"), PutOptions{Overwrite: true})
		require.NoError(t, err)
	}

	keys, err := sink.List(ctx, "orders/")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders/2024-01-01.csv", "orders/2024-01-03.csv"}, keys)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestFailedPutLeavesPreviousObject(t *testing.T) {
	ctx := context.Background()
	sink := OpenMem("b")
	defer sink.Close()

	_, err := sink.Put(ctx, "k", strings.NewReader("old"), PutOptions{Overwrite: true})
	require.NoError(t, err)

	_, err = sink.Put(ctx, "k", io.MultiReader(strings.NewReader("new-partial"), failingReader{}), PutOptions{Overwrite: true})
	require.Error(t, err)

	data, err := sink.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(fmt.Errorf("put: %w", context.DeadlineExceeded)))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("%w: k", ErrObjectExists)))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")), "unclassified transport faults")
	assert.False(t, IsRetryable(fmt.Errorf("%w: k", ErrObjectNotFound)))
	assert.Equal(t, gcerrors.Unknown, gcerrors.Code(errors.New("plain")))
}

func TestIsRetryableBucketErrors(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)

	_, notFound := bucket.Attributes(ctx, "missing")
	_, invalid := bucket.Attributes(ctx, "bad\xffkey")
	require.NoError(t, bucket.Close())
	_, closed := bucket.Attributes(ctx, "k")

	tests := []struct {
		name      string
		err       error
		code      gcerrors.ErrorCode
		retryable bool
	}{
		{"not found", notFound, gcerrors.NotFound, false},
		{"invalid argument", invalid, gcerrors.InvalidArgument, false},
		{"closed bucket", closed, gcerrors.FailedPrecondition, false},
		{"unclassified", errors.New("503 Service Unavailable"), gcerrors.Unknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			wrapped := fmt.Errorf("put orders/2024-01-01.csv: %w", tt.err)
			assert.Equal(t, tt.code, gcerrors.Code(wrapped))
			assert.Equal(t, tt.retryable, IsRetryable(wrapped))
		})
	}
}

// corruptAttributes replaces the fileblob metadata sidecar of key.
func corruptAttributes(t *testing.T, sink *BlobSink, root, key string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(key)) + ".attrs"
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	_, err := sink.Head(context.Background(), key)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrObjectNotFound)
}

func TestOverwriteSurvivesFailedExistenceCheck(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	sink, err := OpenLocal(base, "lake")
	require.NoError(t, err)
	defer sink.Close()

	key := "orders/2024-01-01.csv"
	_, err = sink.Put(ctx, key, strings.NewReader("old"), PutOptions{
		Overwrite: true,
		Metadata:  map[string]string{"rows": "1"},
	})
	require.NoError(t, err)
	corruptAttributes(t, sink, filepath.Join(base, "lake"), key)

	res, err := sink.Put(ctx, key, strings.NewReader("new"), PutOptions{
		Overwrite: true,
		Metadata:  map[string]string{"rows": "2"},
	})
	require.NoError(t, err)
	assert.False(t, res.ReplacedExisting, "unknown previous state reports no replacement")

	data, err := sink.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	info, err := sink.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "2", info.Metadata["rows"])
}

func TestCreateOnlyPutNeedsExistenceCheck(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	sink, err := OpenLocal(base, "lake")
	require.NoError(t, err)
	defer sink.Close()

	key := "orders/2024-01-01.csv"
	_, err = sink.Put(ctx, key, strings.NewReader("old"), PutOptions{
		Overwrite: true,
		Metadata:  map[string]string{"rows": "1"},
	})
	require.NoError(t, err)
	corruptAttributes(t, sink, filepath.Join(base, "lake"), key)

	_, err = sink.Put(ctx, key, strings.NewReader("new"), PutOptions{})
	require.Error(t, err)
}

func TestS3URL(t *testing.T) {
	assert.Equal(t, "s3://orders", s3URL("orders", "", ""))
	assert.Equal(t, "s3://orders?region=us-east-1", s3URL("orders", "", "us-east-1"))
	assert.Equal(t,
		"s3://orders?endpoint=http%3A%2F%2Fminio%3A9000&region=us-east-1&s3ForcePathStyle=true",
		s3URL("orders", "http://minio:9000", "us-east-1"))
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "ftp", Bucket: "b"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Backend: "mem"})
	assert.Error(t, err, "bucket is required")

	sink, err := Open(context.Background(), Config{Backend: "mem", Bucket: "b"})
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}
