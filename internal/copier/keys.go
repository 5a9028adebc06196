package copier

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	day        = 24 * time.Hour
)

// CanonicalStart renders a partition start for object keys: a bare date when
// the start is UTC midnight, otherwise a full UTC timestamp.
func CanonicalStart(start time.Time) string {
	start = start.UTC()
	if start.Equal(start.Truncate(day)) {
		return start.Format(dateLayout)
	}
	return start.Format(time.RFC3339Nano)
}

// ObjectKey derives the destination key from the partition start alone:
// {prefix}/{canonical start}.{ext}. The same start always yields the same key.
func ObjectKey(prefix string, start time.Time, ext string) string {
	name := CanonicalStart(start) + "." + strings.TrimPrefix(ext, ".")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// ParseObjectKey recovers the partition start from a key produced by ObjectKey.
func ParseObjectKey(prefix, key, ext string) (time.Time, error) {
	name := key
	if p := strings.Trim(prefix, "/"); p != "" {
		if !strings.HasPrefix(key, p+"/") {
			return time.Time{}, fmt.Errorf("key %s is outside prefix %s", key, p)
		}
		name = strings.TrimPrefix(key, p+"/")
	}

	suffix := "." + strings.TrimPrefix(ext, ".")
	if !strings.HasSuffix(name, suffix) {
		return time.Time{}, fmt.Errorf("key %s does not end in %s", key, suffix)
	}
	stamp := strings.TrimSuffix(name, suffix)

	if t, err := time.Parse(dateLayout, stamp); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("key %s has no partition start: %w", key, err)
	}
	return t.UTC(), nil
}
