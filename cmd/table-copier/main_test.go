package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-table-copier/internal/config"
	"github.com/withObsrvr/obsrvr-table-copier/internal/copier"
)

func TestParseTime(t *testing.T) {
	got, err := parseTime("2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTime("2024-01-01T05:00:00+05:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseTime("01/02/2024")
	assert.Error(t, err)
}

func TestIntervalFromFlags(t *testing.T) {
	cfg = config.Default()
	now := time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC)
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := jan1.AddDate(0, 0, 1)

	got, err := intervalFromFlags("", "", now)
	require.NoError(t, err)
	assert.Equal(t, copier.PartitionInterval{Start: jan1, End: jan2}, got)

	got, err = intervalFromFlags("2024-01-01", "", now)
	require.NoError(t, err)
	assert.Equal(t, copier.PartitionInterval{Start: jan1, End: jan2}, got)

	got, err = intervalFromFlags("2024-01-01", "2024-01-01T12:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, jan1.Add(12*time.Hour), got.End)

	_, err = intervalFromFlags("2024-01-02", "2024-01-01", now)
	assert.ErrorIs(t, err, copier.ErrInvalidInterval)

	_, err = intervalFromFlags("", "2024-01-01", now)
	assert.Error(t, err)
}

func TestFindGaps(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	gaps := findGaps([]time.Time{day(1), day(2), day(5), day(6)}, 24*time.Hour)
	assert.Equal(t, []string{"2024-01-03", "2024-01-04"}, gaps)
	assert.Empty(t, findGaps([]time.Time{day(1)}, 24*time.Hour))
}

func TestSummarizeFailure(t *testing.T) {
	res := &copier.PipelineResult{
		RunID:      "abc",
		FailedStep: copier.StepLoad,
		Err:        &copier.UploadError{Key: "orders/2024-01-01.csv", Retryable: true},
	}
	s := summarize(res)
	assert.Equal(t, "failed", s.Status)
	assert.Equal(t, copier.StepLoad, s.FailedStep)
	assert.True(t, s.Retryable)
}
