package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/withObsrvr/obsrvr-table-copier/internal/tables"
)

// Info describes a completed artifact.
type Info struct {
	Path     string
	Rows     int64
	Bytes    int64
	Checksum string
}

// Writer streams one partition's rows into an artifact file.
// It is not safe for concurrent use.
type Writer struct {
	file      *os.File
	out       io.Writer
	csv       *csv.Writer
	hash      hash.Hash
	counter   *countingWriter
	nullToken string

	columns int
	rows    int64
	record  []string
	done    bool
}

func newWriter(f *os.File, nullToken string) *Writer {
	h := tables.NewHasher()
	counter := &countingWriter{}
	out := io.MultiWriter(f, h, counter)
	return &Writer{
		file:      f,
		out:       out,
		csv:       csv.NewWriter(out),
		hash:      h,
		counter:   counter,
		nullToken: nullToken,
	}
}

// Path returns the artifact's location on disk.
func (w *Writer) Path() string {
	return w.file.Name()
}

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int64 {
	return w.rows
}

// WriteHeader writes the column-name row. It must be called exactly once, first.
func (w *Writer) WriteHeader(columns []string) error {
	if w.done {
		return errors.New("artifact already closed")
	}
	if w.columns != 0 {
		return errors.New("artifact header already written")
	}
	if len(columns) == 0 {
		return errors.New("artifact header has no columns")
	}
	if err := w.csv.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.columns = len(columns)
	w.record = make([]string, len(columns))
	return nil
}

// WriteRow appends one record. Values are rendered with FormatValue.
func (w *Writer) WriteRow(values []any) error {
	if w.columns == 0 {
		return errors.New("artifact header not written")
	}
	if len(values) != w.columns {
		return fmt.Errorf("row has %d values, header has %d columns", len(values), w.columns)
	}
	for i, v := range values {
		s, err := FormatValue(v, w.nullToken)
		if err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
		w.record[i] = s
	}
	if len(w.record) == 1 && w.record[0] == "" {
		// A lone empty field would be a blank line, which readers skip.
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			return fmt.Errorf("write row %d: %w", w.rows+1, err)
		}
		if _, err := io.WriteString(w.out, "\"\"\n"); err != nil {
			return fmt.Errorf("write row %d: %w", w.rows+1, err)
		}
		w.rows++
		return nil
	}
	if err := w.csv.Write(w.record); err != nil {
		return fmt.Errorf("write row %d: %w", w.rows+1, err)
	}
	w.rows++
	return nil
}

// Close flushes buffered rows, syncs the file and returns its description.
func (w *Writer) Close() (Info, error) {
	if w.done {
		return Info{}, errors.New("artifact already closed")
	}
	w.done = true

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return Info{}, fmt.Errorf("flush artifact: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return Info{}, fmt.Errorf("sync artifact: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return Info{}, fmt.Errorf("close artifact: %w", err)
	}

	return Info{
		Path:     w.file.Name(),
		Rows:     w.rows,
		Bytes:    w.counter.n,
		Checksum: tables.FormatChecksum(w.hash),
	}, nil
}

// Discard closes and deletes a partial artifact. Safe to call after Close.
func (w *Writer) Discard() error {
	if !w.done {
		w.done = true
		w.file.Close()
	}
	if err := os.Remove(w.file.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard artifact: %w", err)
	}
	return nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
