// Package artifact manages the local holding area for extracted partitions.
//
// Every artifact gets its own file named after the dataset, the partition
// start and a run-unique token, so concurrent partition runs never share a
// path. Files are created with O_EXCL and are never reused.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-table-copier/internal/tables"
)

// Extension is the file extension of every artifact.
const Extension = ".csv"

// startLayout is the compact, filename-safe rendering of a partition start.
const startLayout = "20060102T150405Z"

// ErrNotFound is returned when an artifact path does not exist.
var ErrNotFound = errors.New("artifact not found")

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Store hands out artifact files under a single directory.
type Store struct {
	dir       string
	nullToken string
}

// Config configures an artifact store.
type Config struct {
	Dir       string // defaults to $TMPDIR/table-copier
	NullToken string // text written for SQL NULL, defaults to \N
}

// NewStore creates the artifact directory if needed.
func NewStore(cfg Config) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "table-copier")
	}
	null := cfg.NullToken
	if null == "" {
		null = tables.DefaultNullToken
	}
	if err := tables.ValidateNullToken(null); err != nil {
		return nil, fmt.Errorf("null token %q: %w", null, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", dir, err)
	}
	return &Store{dir: dir, nullToken: null}, nil
}

// NullToken returns the text this store writes for SQL NULL.
func (s *Store) NullToken() string {
	return s.nullToken
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create opens a new, uniquely named artifact for a partition of dataset.
func (s *Store) Create(dataset string, start time.Time) (*Writer, error) {
	name := fmt.Sprintf("%s_%s_%s%s",
		sanitize(dataset),
		start.UTC().Format(startLayout),
		uuid.NewString(),
		Extension,
	)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create artifact %s: %w", path, err)
	}
	return newWriter(f, s.nullToken), nil
}

// Stat returns file info for an artifact, mapping a missing file to ErrNotFound.
func (s *Store) Stat(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat artifact %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return info, nil
}

// Open opens an artifact for reading.
func (s *Store) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	return f, nil
}

// Remove deletes an artifact. Removing an artifact that is already gone is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", path, err)
	}
	return nil
}

// Sweep removes artifacts older than maxAge, left behind by crashed runs.
// It returns the number of files removed.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read artifact directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := s.Remove(path); err != nil {
			slog.Warn("failed to sweep artifact", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func sanitize(name string) string {
	name = unsafeName.ReplaceAllString(name, "_")
	if name == "" {
		return "artifact"
	}
	return name
}
