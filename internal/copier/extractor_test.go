package copier

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/withObsrvr/obsrvr-table-copier/internal/artifact"
)

func TestExtractHalfOpenInterval(t *testing.T) {
	store := newTestStore(t)
	src := newMockSource()
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	ref, err := ex.Extract(context.Background(), PartitionInterval{Start: jan1, End: jan2}, src)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()
	header, records, err := artifact.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	wantHeader := []string{"id", "date", "amount"}
	wantRecords := [][]string{
		{"1", "2024-01-01T00:00:00Z", "10.50"},
		{"2", "2024-01-01T23:59:59Z", "20.00"},
	}
	if diff := cmp.Diff(wantHeader, header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantRecords, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	if ref.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", ref.RowCount)
	}
	if diff := cmp.Diff(wantHeader, ref.Columns); diff != "" {
		t.Errorf("ref columns mismatch (-want +got):\n%s", diff)
	}
	info, _ := os.Stat(ref.Path)
	if info.Size() != ref.ByteSize {
		t.Errorf("ByteSize = %d, file has %d", ref.ByteSize, info.Size())
	}
	if opened, released := src.sessions(); opened != 1 || released != 1 {
		t.Errorf("sessions opened=%d released=%d, want 1/1", opened, released)
	}
}

func TestExtractNullUsesToken(t *testing.T) {
	store, err := artifact.NewStore(artifact.Config{Dir: t.TempDir(), NullToken: `\N`})
	if err != nil {
		t.Fatal(err)
	}
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	ref, err := ex.Extract(context.Background(), PartitionInterval{Start: jan2, End: jan3}, newMockSource())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	f, _ := os.Open(ref.Path)
	defer f.Close()
	_, records, err := artifact.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"3", "2024-01-02T00:00:00Z", "30.25"},
		{"4", "2024-01-02T12:00:00Z", `\N`},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractDefaultStoreKeepsValuesDistinct(t *testing.T) {
	store := newTestStore(t)
	src := newMockSource()
	src.setRows([][]any{
		{int64(5), jan1.Add(time.Hour), ""},
		{int64(6), jan1.Add(2 * time.Hour), nil},
		{int64(7), jan1.Add(3 * time.Hour), "10\r\n50"},
		{int64(8), jan1.Add(4 * time.Hour), `\N`},
	})
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	ref, err := ex.Extract(context.Background(), PartitionInterval{Start: jan1, End: jan2}, src)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	_, records, err := artifact.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}

	var got []artifact.Value
	for _, rec := range records {
		vals, err := artifact.DecodeRecord(rec, store.NullToken())
		if err != nil {
			t.Fatalf("DecodeRecord(%q): %v", rec, err)
		}
		got = append(got, vals[2])
	}
	want := []artifact.Value{
		{Text: "", Valid: true},
		{Valid: false},
		{Text: "10\r\n50", Valid: true},
		{Text: `\N`, Valid: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("amounts mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractEmptyPartitionWritesHeaderOnly(t *testing.T) {
	store := newTestStore(t)
	src := newMockSource()
	src.setRows(nil)
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	ref, err := ex.Extract(context.Background(), PartitionInterval{Start: jan1, End: jan2}, src)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ref.RowCount != 0 {
		t.Errorf("RowCount = %d, want 0", ref.RowCount)
	}

	data, err := os.ReadFile(ref.Path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "id,date,amount\n"; got != want {
		t.Errorf("artifact = %q, want %q", got, want)
	}
}

func TestExtractConnectionFailure(t *testing.T) {
	store := newTestStore(t)
	src := newMockSource()
	src.openErr = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	ref, err := ex.Extract(context.Background(), PartitionInterval{Start: jan1, End: jan2}, src)
	if ref != nil {
		t.Errorf("expected no artifact ref, got %+v", ref)
	}
	var connErr *SourceConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected SourceConnectionError, got %T: %v", err, err)
	}
	if !Retryable(err) {
		t.Error("connection failures should be retryable")
	}
	if files := artifactFiles(t, store); len(files) != 0 {
		t.Errorf("expected no artifacts, found %v", files)
	}
}

func TestExtractQueryRejected(t *testing.T) {
	store := newTestStore(t)
	src := newMockSource()
	src.queryErr = errors.New(`relation "orders" does not exist`)
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	_, err := ex.Extract(context.Background(), PartitionInterval{Start: jan1, End: jan2}, src)
	var queryErr *SourceQueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected SourceQueryError, got %T: %v", err, err)
	}
	if Retryable(err) {
		t.Error("query rejections should not be retryable")
	}
	if _, released := src.sessions(); released != 1 {
		t.Errorf("session released %d times, want 1", released)
	}
}

func TestExtractMidStreamFailureDiscardsArtifact(t *testing.T) {
	store := newTestStore(t)
	src := newMockSource()
	src.iterErr = errors.New("invalid input syntax for type numeric")
	src.failAfter = 1
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	_, err := ex.Extract(context.Background(), PartitionInterval{Start: jan1, End: jan2}, src)
	var queryErr *SourceQueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected SourceQueryError, got %T: %v", err, err)
	}
	if files := artifactFiles(t, store); len(files) != 0 {
		t.Errorf("partial artifact left behind: %v", files)
	}
}

func TestExtractCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Extract(ctx, PartitionInterval{Start: jan1, End: jan2}, newMockSource())
	var connErr *SourceConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected SourceConnectionError, got %T: %v", err, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestExtractInvalidInterval(t *testing.T) {
	ex := NewExtractor(newTestStore(t), ExtractorConfig{Dataset: "orders"})
	_, err := ex.Extract(context.Background(), PartitionInterval{Start: jan2, End: jan1}, newMockSource())
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestExtractConcurrentPartitionsUseDistinctArtifacts(t *testing.T) {
	store := newTestStore(t)
	src := newMockSource()
	ex := NewExtractor(store, ExtractorConfig{Dataset: "orders"})

	type out struct {
		ref *ArtifactRef
		err error
	}
	results := make(chan out, 2)
	for _, p := range []PartitionInterval{{Start: jan1, End: jan2}, {Start: jan2, End: jan3}} {
		go func() {
			ref, err := ex.Extract(context.Background(), p, src)
			results <- out{ref, err}
		}()
	}

	paths := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Extract: %v", r.err)
		}
		paths[r.ref.Path] = true
	}
	if len(paths) != 2 {
		t.Errorf("expected two distinct artifact paths, got %v", paths)
	}
}

func TestExtractBoundLayout(t *testing.T) {
	ex := NewExtractor(newTestStore(t), ExtractorConfig{Dataset: "orders", BoundLayout: "2006-01-02"})
	lo, hi := ex.bounds(PartitionInterval{Start: jan1, End: jan2})
	if lo != "2024-01-01" || hi != "2024-01-02" {
		t.Errorf("bounds = %v, %v", lo, hi)
	}
}
