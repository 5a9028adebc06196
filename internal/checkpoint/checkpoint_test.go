package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func cpFor(dataset string, start, end time.Time) *Checkpoint {
	return &Checkpoint{
		CopierID:      "test",
		Dataset:       dataset,
		LastPartition: &PartitionInfo{Start: start, End: end},
		UpdatedAt:     time.Now().UTC(),
	}
}

func TestFileManagerSaveLoad(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := m.Load(ctx, "orders"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}

	if err := m.Save(ctx, cpFor("orders", day(1), day(2))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := m.Load(ctx, "orders")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cp.LastPartition.Start.Equal(day(1)) || !cp.LastPartition.End.Equal(day(2)) {
		t.Errorf("unexpected partition %+v", cp.LastPartition)
	}

	// Datasets are tracked independently.
	if _, err := m.Load(ctx, "customers"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected no checkpoint for other dataset, got %v", err)
	}
}

func TestAdvanceOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		start, end time.Time
		advanced   bool
	}{
		{day(2), day(3), true},
		{day(1), day(2), false}, // older partition from a backfill
		{day(2), day(3), false}, // re-run of the same partition
		{day(3), day(4), true},
	}
	for i, s := range steps {
		ok, err := m.Advance(ctx, cpFor("orders", s.start, s.end))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ok != s.advanced {
			t.Errorf("step %d: advanced = %v, want %v", i, ok, s.advanced)
		}
	}

	cp, err := m.Load(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if !cp.LastPartition.End.Equal(day(4)) {
		t.Errorf("checkpoint end = %v, want %v", cp.LastPartition.End, day(4))
	}
}

func TestNoopManager(t *testing.T) {
	m, err := NewManager(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(context.Background(), "orders"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
	if ok, err := m.Advance(context.Background(), cpFor("orders", day(1), day(2))); ok || err != nil {
		t.Errorf("noop Advance = %v, %v", ok, err)
	}
}
