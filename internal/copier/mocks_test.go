package copier

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-table-copier/internal/artifact"
	"github.com/withObsrvr/obsrvr-table-copier/internal/source"
	"github.com/withObsrvr/obsrvr-table-copier/internal/storage"
)

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	jan3 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
)

// orderRows is an orders table with rows on and around the 2024-01-01 and
// 2024-01-02 partition boundaries. Column 1 is the partition column.
func orderRows() [][]any {
	return [][]any{
		{int64(0), time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), "1.00"},
		{int64(1), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "10.50"},
		{int64(2), time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC), "20.00"},
		{int64(3), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "30.25"},
		{int64(4), time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), nil},
	}
}

// mockSource implements source.QueryableSource over in-memory rows.
type mockSource struct {
	columns []string
	rows    [][]any

	openErr   error
	queryErr  error
	iterErr   error
	failAfter int // rows yielded before iterErr

	mu       sync.Mutex
	opened   int
	released int
	queries  int
}

func newMockSource() *mockSource {
	return &mockSource{
		columns: []string{"id", "date", "amount"},
		rows:    orderRows(),
	}
}

func (m *mockSource) Open(ctx context.Context) (source.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &mockSession{src: m}, nil
}

func (m *mockSource) Describe() source.Description {
	return source.Description{Driver: "mock", Table: "orders", PartitionColumn: "date"}
}

func (m *mockSource) Close() error { return nil }

func (m *mockSource) setRows(rows [][]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = rows
}

func (m *mockSource) sessions() (opened, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.released
}

type mockSession struct {
	src *mockSource
}

func (s *mockSession) QueryRange(ctx context.Context, lower, upper any) (source.Cursor, error) {
	m := s.src
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	lo, ok1 := lower.(time.Time)
	hi, ok2 := upper.(time.Time)
	if !ok1 || !ok2 {
		return nil, errors.New("bounds must be timestamps")
	}

	var matched [][]any
	for _, r := range m.rows {
		ts := r[1].(time.Time)
		if !ts.Before(lo) && ts.Before(hi) {
			matched = append(matched, r)
		}
	}
	return &mockCursor{
		columns:   m.columns,
		rows:      matched,
		pos:       -1,
		iterErr:   m.iterErr,
		failAfter: m.failAfter,
	}, nil
}

func (s *mockSession) Close() error {
	s.src.mu.Lock()
	s.src.released++
	s.src.mu.Unlock()
	return nil
}

type mockCursor struct {
	columns   []string
	rows      [][]any
	pos       int
	iterErr   error
	failAfter int
	err       error
}

func (c *mockCursor) Columns() []string { return c.columns }

func (c *mockCursor) Next() bool {
	if c.err != nil {
		return false
	}
	c.pos++
	if c.iterErr != nil && c.pos >= c.failAfter {
		c.err = c.iterErr
		return false
	}
	return c.pos < len(c.rows)
}

func (c *mockCursor) Values() ([]any, error) { return c.rows[c.pos], nil }
func (c *mockCursor) Err() error             { return c.err }
func (c *mockCursor) Close() error           { return nil }

// failingSink wraps an ObjectSink and fails every Put.
type failingSink struct {
	storage.ObjectSink
	err  error
	puts int
	mu   sync.Mutex
}

func (f *failingSink) Put(ctx context.Context, key string, r io.Reader, opts storage.PutOptions) (*storage.PutResult, error) {
	f.mu.Lock()
	f.puts++
	f.mu.Unlock()
	// Drain part of the payload so the failure is mid-write.
	io.CopyN(io.Discard, r, 8)
	return nil, f.err
}

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(artifact.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func newTestLoader(t *testing.T, store *artifact.Store, format, compression string) *Loader {
	t.Helper()
	l, err := NewLoader(store, LoaderConfig{
		Dataset:     "orders",
		Prefix:      "orders",
		Format:      format,
		Compression: compression,
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

// artifactFiles lists the artifact files currently in the store.
func artifactFiles(t *testing.T, store *artifact.Store) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(store.Dir(), "*"+artifact.Extension))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
