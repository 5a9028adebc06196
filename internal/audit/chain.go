package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoChainHead indicates no event has been linked into a dataset's chain yet.
var ErrNoChainHead = errors.New("no chain head found")

var unsafeChainName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// ComputeEventHash hashes the event's JSON form with event_hash cleared.
// Struct fields marshal in declaration order, so the encoding is stable.
func ComputeEventHash(evt *PartitionEvent) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ChainHead is the last event linked into a dataset's chain, along with the
// partition it recorded.
type ChainHead struct {
	Dataset       string    `json:"dataset"`
	EventHash     string    `json:"event_hash"`
	Sequence      int64     `json:"sequence"`
	ObjectKey     string    `json:"object_key"`
	IntervalStart time.Time `json:"interval_start"`
	IntervalEnd   time.Time `json:"interval_end"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChainTracker keeps one head file per dataset under {dir}/chains.
// Callers serialize Head/Advance pairs for a dataset.
type ChainTracker struct {
	mu    sync.Mutex
	dir   string
	heads map[string]ChainHead
}

// NewChainTracker creates the chains directory under dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if dir == "" {
		dir = "./audit-backup"
	}
	chains := filepath.Join(dir, "chains")
	if err := os.MkdirAll(chains, 0o755); err != nil {
		return nil, fmt.Errorf("create chain dir: %w", err)
	}
	return &ChainTracker{dir: chains, heads: make(map[string]ChainHead)}, nil
}

func (ct *ChainTracker) path(dataset string) string {
	return filepath.Join(ct.dir, unsafeChainName.ReplaceAllString(dataset, "_")+".head.json")
}

// Head returns the current head of a dataset's chain.
func (ct *ChainTracker) Head(dataset string) (ChainHead, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if h, ok := ct.heads[dataset]; ok {
		return h, nil
	}
	data, err := os.ReadFile(ct.path(dataset))
	if errors.Is(err, os.ErrNotExist) {
		return ChainHead{}, ErrNoChainHead
	}
	if err != nil {
		return ChainHead{}, fmt.Errorf("read chain head for %s: %w", dataset, err)
	}
	var h ChainHead
	if err := json.Unmarshal(data, &h); err != nil {
		return ChainHead{}, fmt.Errorf("parse chain head for %s: %w", dataset, err)
	}
	ct.heads[dataset] = h
	return h, nil
}

// Advance makes evt the head of its dataset's chain. evt must already be
// linked to the current head.
func (ct *ChainTracker) Advance(evt *PartitionEvent) error {
	h := ChainHead{
		Dataset:       evt.Partition.Dataset,
		EventHash:     evt.Chain.EventHash,
		Sequence:      evt.Chain.Sequence,
		ObjectKey:     evt.Object.Key,
		IntervalStart: evt.Partition.IntervalStart,
		IntervalEnd:   evt.Partition.IntervalEnd,
		UpdatedAt:     time.Now().UTC(),
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	path := ct.path(h.Dataset)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write chain head: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit chain head: %w", err)
	}
	ct.heads[h.Dataset] = h
	return nil
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "evt_" + uuid.NewString()
}
