package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-table-copier/internal/copier"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestParseCadence(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"@daily", 24 * time.Hour},
		{"@DAILY", 24 * time.Hour},
		{"@hourly", time.Hour},
		{"6h", 6 * time.Hour},
		{"15m", 15 * time.Minute},
		{"168h", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		c, err := ParseCadence(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, c.Every, tt.in)
	}

	for _, bad := range []string{"", "daily", "7h", "36h", "500ms", "@weekly"} {
		_, err := ParseCadence(bad)
		assert.True(t, errors.Is(err, ErrInvalidCadence), "ParseCadence(%q) = %v", bad, err)
	}
}

func TestCadenceString(t *testing.T) {
	assert.Equal(t, "@daily", Cadence{Every: 24 * time.Hour}.String())
	assert.Equal(t, "@hourly", Cadence{Every: time.Hour}.String())
	assert.Equal(t, "6h0m0s", Cadence{Every: 6 * time.Hour}.String())
}

func TestIntervalAt(t *testing.T) {
	daily := Cadence{Every: 24 * time.Hour}
	got := daily.IntervalAt(time.Date(2024, 1, 1, 15, 4, 5, 0, time.UTC))
	assert.Equal(t, copier.PartitionInterval{Start: day(1), End: day(2)}, got)

	// 20:00 in UTC-5 is 01:00 the next day in UTC.
	est := time.FixedZone("EST", -5*3600)
	got = daily.IntervalAt(time.Date(2024, 1, 1, 20, 0, 0, 0, est))
	assert.Equal(t, copier.PartitionInterval{Start: day(2), End: day(3)}, got)
}

func TestLastComplete(t *testing.T) {
	daily := Cadence{Every: 24 * time.Hour}
	got := daily.LastComplete(time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC))
	assert.Equal(t, copier.PartitionInterval{Start: day(1), End: day(2)}, got)

	hourly := Cadence{Every: time.Hour}
	got = hourly.LastComplete(time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), got.Start)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), got.End)
}

func TestRangeTilesContiguously(t *testing.T) {
	daily := Cadence{Every: 24 * time.Hour}
	got, err := daily.Range(day(1), day(4))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].End, got[i].Start, "gap between interval %d and %d", i-1, i)
	}
	assert.Equal(t, day(1), got[0].Start)
	assert.Equal(t, day(4), got[2].End)

	// An unaligned end still covers it.
	got, err = daily.Range(day(1), day(3).Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = daily.Range(day(3), day(1))
	assert.ErrorIs(t, err, copier.ErrInvalidInterval)
}

func TestPending(t *testing.T) {
	daily := Cadence{Every: 24 * time.Hour}
	now := time.Date(2024, 1, 5, 3, 0, 0, 0, time.UTC)

	assert.Equal(t, []copier.PartitionInterval{{Start: day(4), End: day(5)}}, daily.Pending(time.Time{}, now))

	got := daily.Pending(day(2), now)
	require.Len(t, got, 3)
	assert.Equal(t, day(2), got[0].Start)
	assert.Equal(t, day(5), got[2].End)

	assert.Empty(t, daily.Pending(day(5), now))
}

func TestNext(t *testing.T) {
	daily := Cadence{Every: 24 * time.Hour}
	assert.Equal(t, copier.PartitionInterval{Start: day(2), End: day(3)},
		daily.Next(copier.PartitionInterval{Start: day(1), End: day(2)}))
}
