package copier

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned for an interval whose start is not before its end.
var ErrInvalidInterval = errors.New("invalid partition interval")

// PartitionInterval is the half-open time range [Start, End) of one partition run.
type PartitionInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval normalizes both bounds to UTC and validates them.
func NewInterval(start, end time.Time) (PartitionInterval, error) {
	p := PartitionInterval{Start: start.UTC(), End: end.UTC()}
	return p, p.Validate()
}

// Validate enforces Start < End.
func (p PartitionInterval) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidInterval)
	}
	if !p.Start.Before(p.End) {
		return fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidInterval, p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t falls in [Start, End).
func (p PartitionInterval) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p PartitionInterval) String() string {
	return fmt.Sprintf("[%s, %s)", p.Start.UTC().Format(time.RFC3339), p.End.UTC().Format(time.RFC3339))
}

// ArtifactRef is the explicit hand-off from Extractor to Loader. It is owned
// by the run that created it and serializes to JSON for out-of-process hand-off.
type ArtifactRef struct {
	Path      string            `json:"path"`
	Dataset   string            `json:"dataset"`
	Partition PartitionInterval `json:"partition"`
	RowCount  int64             `json:"row_count"`
	Columns   []string          `json:"columns"`
	ByteSize  int64             `json:"byte_size"`
	Checksum  string            `json:"checksum"`
	RunID     string            `json:"run_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// UploadResult describes a completed publish. It is not mutated after Load returns.
type UploadResult struct {
	Key          string `json:"key"`
	URI          string `json:"uri"`
	Bucket       string `json:"bucket"`
	Format       string `json:"format"`
	BytesWritten int64  `json:"bytes_written"`
	RowCount     int64  `json:"row_count"`
	Checksum     string `json:"checksum"` // of the published payload

	// ReplacedExisting is true only when the sink observed an object at Key before the write.
	ReplacedExisting bool `json:"replaced_existing"`

	// Unchanged is true when the replaced object carried the same payload checksum.
	Unchanged bool `json:"unchanged"`
}

// Step identifies a stage of a partition run.
type Step string

const (
	StepExtract Step = "extract"
	StepLoad    Step = "load"
	// StepRecord is only reported when catalog or audit writes are strict.
	StepRecord Step = "record"
)

// PipelineResult is the outcome of one partition run. A run either completes
// or names the step that failed.
type PipelineResult struct {
	RunID      string            `json:"run_id"`
	Partition  PartitionInterval `json:"partition"`
	Artifact   *ArtifactRef      `json:"artifact,omitempty"`
	Upload     *UploadResult     `json:"upload,omitempty"`
	FailedStep Step              `json:"failed_step,omitempty"`
	Err        error             `json:"-"`
	Duration   time.Duration     `json:"duration"`
}

// Succeeded reports whether the partition was published.
func (r *PipelineResult) Succeeded() bool {
	return r != nil && r.Err == nil && r.Upload != nil
}

// Error returns the failure message, or "".
func (r *PipelineResult) Error() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
