// Package schedule turns a cadence into partition intervals.
//
// Intervals are aligned to the cadence in UTC: a daily cadence yields
// [midnight, next midnight), an hourly cadence yields whole hours.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-table-copier/internal/copier"
)

// ErrInvalidCadence is returned for cadences that cannot tile time.
var ErrInvalidCadence = errors.New("invalid cadence")

var presets = map[string]time.Duration{
	"@daily":    24 * time.Hour,
	"@midnight": 24 * time.Hour,
	"@hourly":   time.Hour,
}

// Cadence is a fixed partition length.
type Cadence struct {
	Every time.Duration
}

// ParseCadence accepts "@daily", "@hourly", "@midnight" or a Go duration such as "6h".
// The duration must divide a day evenly so partitions never straddle midnight.
func ParseCadence(s string) (Cadence, error) {
	s = strings.TrimSpace(s)
	if d, ok := presets[strings.ToLower(s)]; ok {
		return Cadence{Every: d}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Cadence{}, fmt.Errorf("%w %q: %v", ErrInvalidCadence, s, err)
	}
	if d < time.Second {
		return Cadence{}, fmt.Errorf("%w %q: shorter than one second", ErrInvalidCadence, s)
	}
	if d <= 24*time.Hour && (24*time.Hour)%d != 0 {
		return Cadence{}, fmt.Errorf("%w %q: does not divide a day", ErrInvalidCadence, s)
	}
	if d > 24*time.Hour && d%(24*time.Hour) != 0 {
		return Cadence{}, fmt.Errorf("%w %q: not a whole number of days", ErrInvalidCadence, s)
	}
	return Cadence{Every: d}, nil
}

// String renders the cadence in the form ParseCadence accepts.
func (c Cadence) String() string {
	for name, d := range map[string]time.Duration{"@daily": 24 * time.Hour, "@hourly": time.Hour} {
		if c.Every == d {
			return name
		}
	}
	return c.Every.String()
}

// Floor returns the start of the interval containing t.
func (c Cadence) Floor(t time.Time) time.Time {
	return t.UTC().Truncate(c.Every)
}

// IntervalAt returns the interval containing t.
func (c Cadence) IntervalAt(t time.Time) copier.PartitionInterval {
	start := c.Floor(t)
	return copier.PartitionInterval{Start: start, End: start.Add(c.Every)}
}

// Next returns the interval immediately after p.
func (c Cadence) Next(p copier.PartitionInterval) copier.PartitionInterval {
	return copier.PartitionInterval{Start: p.End, End: p.End.Add(c.Every)}
}

// LastComplete returns the most recent interval that has fully elapsed at now.
// A run triggered at 2024-01-02T00:05Z on a daily cadence copies 2024-01-01.
func (c Cadence) LastComplete(now time.Time) copier.PartitionInterval {
	end := c.Floor(now)
	return copier.PartitionInterval{Start: end.Add(-c.Every), End: end}
}

// Range tiles [from, to) into contiguous intervals. from is floored to the
// cadence; the last interval is the one containing to-1ns, so to need not be aligned.
func (c Cadence) Range(from, to time.Time) ([]copier.PartitionInterval, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from %s is not before to %s",
			copier.ErrInvalidInterval, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	var out []copier.PartitionInterval
	for start := c.Floor(from); start.Before(to); start = start.Add(c.Every) {
		out = append(out, copier.PartitionInterval{Start: start, End: start.Add(c.Every)})
	}
	return out, nil
}

// Pending returns the complete intervals after the checkpoint end up to now.
// With no checkpoint (zero after) it returns only the last complete interval.
func (c Cadence) Pending(after, now time.Time) []copier.PartitionInterval {
	last := c.LastComplete(now)
	if after.IsZero() {
		return []copier.PartitionInterval{last}
	}
	if !after.Before(last.End) {
		return nil
	}
	out, _ := c.Range(after, last.End)
	return out
}
