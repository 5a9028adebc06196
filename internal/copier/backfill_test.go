package copier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedRunner fails the intervals listed in failures, tracking peak concurrency.
type scriptedRunner struct {
	mu       sync.Mutex
	failures map[time.Time][]error // errors returned on successive attempts
	attempts map[time.Time]int

	inFlight atomic.Int32
	peak     atomic.Int32
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		failures: map[time.Time][]error{},
		attempts: map[time.Time]int{},
	}
}

func (r *scriptedRunner) Run(ctx context.Context, p PartitionInterval) (*PipelineResult, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	attempt := r.attempts[p.Start]
	r.attempts[p.Start]++
	var err error
	if errs := r.failures[p.Start]; attempt < len(errs) {
		err = errs[attempt]
	}
	r.mu.Unlock()

	if err != nil {
		return &PipelineResult{Partition: p, FailedStep: StepExtract, Err: err}, err
	}
	return &PipelineResult{Partition: p, Upload: &UploadResult{Key: ObjectKey("orders", p.Start, "csv")}}, nil
}

func days(n int) []PartitionInterval {
	out := make([]PartitionInterval, n)
	for i := range out {
		start := jan1.AddDate(0, 0, i)
		out[i] = PartitionInterval{Start: start, End: start.AddDate(0, 0, 1)}
	}
	return out
}

func TestRunBackfillIsolatesFailures(t *testing.T) {
	r := newScriptedRunner()
	intervals := days(6)
	r.failures[intervals[2].Start] = []error{&SourceQueryError{Err: errors.New("bad column")}}

	results := RunBackfill(context.Background(), r, intervals, BackfillOptions{Concurrency: 3})

	if len(results) != len(intervals) {
		t.Fatalf("got %d results, want %d", len(results), len(intervals))
	}
	for i, res := range results {
		if !res.Partition.Start.Equal(intervals[i].Start) {
			t.Errorf("result %d is for %s, want %s", i, res.Partition, intervals[i])
		}
		if wantOK := i != 2; res.Succeeded() != wantOK {
			t.Errorf("result %d succeeded=%v, want %v", i, res.Succeeded(), wantOK)
		}
	}

	s := Summarize(results)
	if s.Succeeded != 5 || s.Failed != 1 || s.Failures[0] != results[2] {
		t.Errorf("unexpected summary %+v", s)
	}
	if peak := r.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency %d exceeds limit 3", peak)
	}
}

func TestRunBackfillRetriesRetryableFailures(t *testing.T) {
	r := newScriptedRunner()
	intervals := days(2)
	r.failures[intervals[0].Start] = []error{&SourceConnectionError{Err: errors.New("connection reset")}}
	r.failures[intervals[1].Start] = []error{&SourceQueryError{Err: errors.New("permission denied")}}

	results := RunBackfill(context.Background(), r, intervals, BackfillOptions{
		Concurrency:   2,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	})

	if !results[0].Succeeded() {
		t.Errorf("retryable failure should succeed on retry: %v", results[0].Err)
	}
	if results[1].Succeeded() {
		t.Error("query failure should not be retried into success")
	}
	if got := r.attempts[intervals[1].Start]; got != 1 {
		t.Errorf("non-retryable partition ran %d times, want 1", got)
	}
}

func TestRunBackfillWithCoordinator(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	results := RunBackfill(context.Background(), f.coord, days(3), BackfillOptions{Concurrency: 2})

	if s := Summarize(results); s.Failed != 0 {
		t.Fatalf("unexpected failures: %+v", s.Failures)
	}
	keys, err := f.mem.List(context.Background(), "orders/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"orders/2024-01-01.csv", "orders/2024-01-02.csv", "orders/2024-01-03.csv"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
	if files := artifactFiles(t, f.store); len(files) != 0 {
		t.Errorf("artifacts left behind: %v", files)
	}
}
