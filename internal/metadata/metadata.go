package metadata

import "time"

// DatasetInfo identifies a replicated table in the catalog.
type DatasetInfo struct {
	Dataset         string
	SourceDriver    string
	SourceTable     string
	PartitionColumn string
	Bucket          string
	KeyPrefix       string
	Description     string
}

// PartitionRecord is the lineage row for one published partition.
// Re-publishing a partition replaces its row.
type PartitionRecord struct {
	DatasetID        int64
	IntervalStart    time.Time
	IntervalEnd      time.Time
	RowCount         int64
	ByteSize         int64
	Checksum         string
	ObjectKey        string
	StorageURI       string
	ReplacedExisting bool
	RunID            string
	ProducerVersion  string
	ProducerGitSHA   string
	SourceType       string
	SourceLocation   string
	PublishedAt      time.Time
}

// QualityRecord stores the outcome of artifact validation for a partition.
type QualityRecord struct {
	DatasetID     int64
	IntervalStart time.Time
	IntervalEnd   time.Time
	Passed        bool
	ErrorMessage  string
}
