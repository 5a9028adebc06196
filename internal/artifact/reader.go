package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Reader parses an artifact back into its header and records.
type Reader struct {
	csv     *csv.Reader
	columns []string
}

// NewReader reads the header row from r.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("artifact has no header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	// Every record must match the header width.
	cr.FieldsPerRecord = len(header)
	return &Reader{csv: cr, columns: header}, nil
}

// Columns returns the header row.
func (r *Reader) Columns() []string {
	return r.columns
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() ([]string, error) {
	rec, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	return rec, nil
}

// ReadAll parses an entire artifact.
func ReadAll(r io.Reader) ([]string, [][]string, error) {
	ar, err := NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	var rows [][]string
	for {
		rec, err := ar.Next()
		if errors.Is(err, io.EOF) {
			return ar.Columns(), rows, nil
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, rec)
	}
}

// Value is one decoded artifact field. Valid is false for SQL NULL.
type Value struct {
	Text  string
	Valid bool
}

// DecodeRecord unescapes a raw record read from an artifact written with nullToken.
func DecodeRecord(rec []string, nullToken string) ([]Value, error) {
	out := make([]Value, len(rec))
	for i, field := range rec {
		text, valid, err := ParseField(field, nullToken)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = Value{Text: text, Valid: valid}
	}
	return out, nil
}
