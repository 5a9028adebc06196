// Package audit emits a tamper-evident record of every published partition.
package audit

import (
	"time"
)

const (
	eventVersion = "1.0"
	eventType    = "table_partition"
)

// PartitionEvent records one publish.
type PartitionEvent struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Partition PartitionInfo `json:"partition"`
	Object    ObjectInfo    `json:"object"`
	Producer  ProducerInfo  `json:"producer"`
	Chain     ChainInfo     `json:"chain"`
}

// PartitionInfo identifies the partition being audited.
type PartitionInfo struct {
	Dataset       string    `json:"dataset"`
	IntervalStart time.Time `json:"interval_start"`
	IntervalEnd   time.Time `json:"interval_end"`
}

// ObjectInfo describes the published object.
type ObjectInfo struct {
	Key              string `json:"key"`
	URI              string `json:"uri"`
	Checksum         string `json:"checksum"`
	RowCount         int64  `json:"row_count"`
	ByteSize         int64  `json:"byte_size"`
	ReplacedExisting bool   `json:"replaced_existing"`
	Unchanged        bool   `json:"unchanged"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
	RunID   string `json:"run_id,omitempty"`
}

// ChainInfo links events of one dataset into a hash chain. Sequence starts
// at 1 for the first event of a dataset.
type ChainInfo struct {
	Sequence      int64  `json:"sequence"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the unique key for this partition's chain.
func (p PartitionInfo) ChainKey() string {
	return p.Dataset
}

// Link chains the event after prev and computes its own hash. A nil prev
// starts a new chain.
func (e *PartitionEvent) Link(prev *ChainHead) {
	e.Chain.Sequence = 1
	e.Chain.PrevEventHash = ""
	if prev != nil {
		e.Chain.Sequence = prev.Sequence + 1
		e.Chain.PrevEventHash = prev.EventHash
	}
	e.Chain.EventHash = ComputeEventHash(e)
}
