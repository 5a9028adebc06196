package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileBackup saves events to local JSON files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./audit-backup"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir}, nil
}

// Path returns the backup file for an event: {dataset}_{start}_{event id}.json.
// Re-publishing a partition adds a file instead of overwriting the old record.
func (f *FileBackup) Path(evt *PartitionEvent) string {
	filename := fmt.Sprintf("%s_%s_%s.json",
		evt.Partition.Dataset,
		evt.Partition.IntervalStart.UTC().Format("20060102T150405Z"),
		evt.EventID,
	)
	return filepath.Join(f.dir, filename)
}

// Save writes an event to a local JSON file.
func (f *FileBackup) Save(evt *PartitionEvent) error {
	path := f.Path(evt)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	slog.Debug("audit event backed up", "path", path)
	return nil
}

// FileOnlyEmitter writes events to files only.
type FileOnlyEmitter struct {
	mu           sync.Mutex
	chainTracker *ChainTracker
	backup       *FileBackup
}

// NewFileOnlyEmitter creates an emitter that only writes to local files.
func NewFileOnlyEmitter(backupDir string) (*FileOnlyEmitter, error) {
	chainTracker, err := NewChainTracker(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &FileOnlyEmitter{
		chainTracker: chainTracker,
		backup:       backup,
	}, nil
}

// Emit chains and writes an event. Emits are serialized so the chain stays linear
// under concurrent partition runs.
func (e *FileOnlyEmitter) Emit(evt *PartitionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	chainKey := evt.Partition.ChainKey()
	prev, err := e.chainTracker.Head(chainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	stamp(evt)
	if err == nil {
		evt.Link(&prev)
	} else {
		evt.Link(nil)
	}

	if err := e.backup.Save(evt); err != nil {
		return err
	}

	if err := e.chainTracker.Advance(evt); err != nil {
		slog.Warn("failed to update audit chain head", "error", err)
	}

	slog.Debug("audit event written",
		"chain", chainKey,
		"sequence", evt.Chain.Sequence,
		"event_hash", evt.Chain.EventHash,
	)
	return nil
}

// Close releases resources.
func (e *FileOnlyEmitter) Close() error {
	return nil
}

func stamp(evt *PartitionEvent) {
	evt.EventID = GenerateEventID()
	evt.Timestamp = time.Now().UTC()
	evt.Version = eventVersion
	evt.EventType = eventType
}
