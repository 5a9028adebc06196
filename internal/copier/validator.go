package copier

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/withObsrvr/obsrvr-table-copier/internal/artifact"
	"github.com/withObsrvr/obsrvr-table-copier/internal/metadata"
	"github.com/withObsrvr/obsrvr-table-copier/internal/tables"
)

// ValidationResult contains the outcome of artifact validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RowCount int64
	ByteSize int64
}

// Summary joins the errors into one message.
func (r ValidationResult) Summary() string {
	return strings.Join(r.Errors, "; ")
}

// ValidateArtifact checks that the file behind ref is the one the Extractor wrote:
// - the file exists
// - its size and checksum match the ref
// - its header matches the captured columns
// - the partition interval is well formed
func ValidateArtifact(store *artifact.Store, ref ArtifactRef) ValidationResult {
	result := ValidationResult{
		Passed:   true,
		RowCount: ref.RowCount,
		ByteSize: ref.ByteSize,
	}
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		result.Passed = false
	}

	if err := ref.Partition.Validate(); err != nil {
		fail("%v", err)
	}
	if ref.Path == "" {
		fail("artifact reference has no path")
		return result
	}

	info, err := store.Stat(ref.Path)
	if err != nil {
		fail("%v", err)
		return result
	}
	if info.Size() != ref.ByteSize {
		fail("size mismatch: file has %d bytes, reference says %d", info.Size(), ref.ByteSize)
	}

	if !strings.HasPrefix(ref.Checksum, "sha256:") {
		fail("reference checksum in non-standard format: %q", ref.Checksum[:min(20, len(ref.Checksum))])
	}

	f, err := store.Open(ref.Path)
	if err != nil {
		fail("%v", err)
		return result
	}
	defer f.Close()

	h := tables.NewHasher()
	r, err := artifact.NewReader(io.TeeReader(f, h))
	if err != nil {
		fail("unreadable header: %v", err)
		return result
	}
	if got := r.Columns(); !equalColumns(got, ref.Columns) {
		fail("header %v does not match captured columns %v", got, ref.Columns)
	}
	// The csv reader buffers ahead; drain the rest so the hash covers the whole file.
	if _, err := io.Copy(io.Discard, io.TeeReader(f, h)); err != nil {
		fail("read artifact: %v", err)
		return result
	}
	if sum := tables.FormatChecksum(h); sum != ref.Checksum {
		fail("checksum mismatch: file is %s, reference says %s", sum, ref.Checksum)
	}

	if ref.RowCount == 0 {
		result.Warnings = append(result.Warnings, "partition is empty")
	}
	seen := make(map[string]bool, len(ref.Columns))
	for _, c := range ref.Columns {
		if seen[c] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate column %s", c))
		}
		seen[c] = true
	}

	return result
}

// RecordQualityResult records the validation result to the metadata catalog.
func RecordQualityResult(ctx context.Context, meta metadata.Writer, datasetID int64, interval PartitionInterval, result ValidationResult) error {
	if datasetID == 0 {
		return nil // No catalog configured
	}
	return meta.InsertQuality(ctx, metadata.QualityRecord{
		DatasetID:     datasetID,
		IntervalStart: interval.Start,
		IntervalEnd:   interval.End,
		Passed:        result.Passed,
		ErrorMessage:  result.Summary(),
	})
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
