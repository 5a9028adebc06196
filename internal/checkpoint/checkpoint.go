// Package checkpoint records the last partition published per dataset.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint represents the copier's progress for one dataset.
type Checkpoint struct {
	CopierID      string         `json:"copier_id"`
	Dataset       string         `json:"dataset"`
	LastPartition *PartitionInfo `json:"last_published_partition,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// PartitionInfo describes the last published partition.
type PartitionInfo struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Key      string    `json:"key,omitempty"`
	Checksum string    `json:"checksum,omitempty"`
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint for a dataset.
	Load(ctx context.Context, dataset string) (*Checkpoint, error)

	// Save persists the checkpoint unconditionally.
	Save(ctx context.Context, cp *Checkpoint) error

	// Advance persists cp only if its partition ends after the stored one.
	// Backfills publish out of order; the checkpoint never moves backwards.
	Advance(ctx context.Context, cp *Checkpoint) (bool, error)
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// fileManager persists checkpoints to local files, one per dataset.
type fileManager struct {
	mu  sync.Mutex
	dir string
}

func (m *fileManager) checkpointPath(dataset string) string {
	filename := fmt.Sprintf("checkpoint_%s.json", unsafeName.ReplaceAllString(dataset, "_"))
	return filepath.Join(m.dir, filename)
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context, dataset string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(dataset)
}

func (m *fileManager) load(dataset string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(dataset))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(cp)
}

func (m *fileManager) save(cp *Checkpoint) error {
	path := m.checkpointPath(cp.Dataset)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// Advance saves cp if it moves the dataset's checkpoint forward.
func (m *fileManager) Advance(ctx context.Context, cp *Checkpoint) (bool, error) {
	if cp.LastPartition == nil {
		return false, errors.New("checkpoint has no partition")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.load(cp.Dataset)
	if err != nil && !errors.Is(err, ErrNoCheckpoint) {
		return false, err
	}
	if current != nil && current.LastPartition != nil &&
		!cp.LastPartition.End.After(current.LastPartition.End) {
		return false, nil
	}

	return true, m.save(cp)
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, dataset string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}

func (m *noopManager) Advance(ctx context.Context, cp *Checkpoint) (bool, error) {
	return false, nil
}
