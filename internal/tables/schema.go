package tables

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Name         string            // schema name, usually the dataset
	Compression  string            // "snappy" | "zstd" | "gzip" | "none"
	NullToken    string            // artifact text that represents SQL NULL, defaults to \N
	Metadata     map[string]string // footer key/value metadata
	RowGroupRows int64             // rows buffered per WriteRows batch
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{
		Name:         "table",
		Compression:  "snappy",
		RowGroupRows: 1024,
	}
}

// SchemaVersion returns the version of the published file layout.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"

// RowSource yields artifact records; it returns io.EOF after the last one.
type RowSource func() ([]string, error)

// StringSchema describes a table whose columns are all optional UTF-8 strings.
// Artifacts are text, so every column is published as text and typed downstream.
type StringSchema struct {
	schema  *parquet.Schema
	columns []string
	leaf    []int // leaf[i] is the parquet column index of columns[i]
}

// NewStringSchema builds a schema for the given header. Duplicate names are rejected.
func NewStringSchema(name string, columns []string) (*StringSchema, error) {
	if len(columns) == 0 {
		return nil, errors.New("schema has no columns")
	}

	group := parquet.Group{}
	for _, c := range columns {
		if _, dup := group[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		group[c] = parquet.Optional(parquet.String())
	}

	// Group fields are laid out in name order.
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	pos := make(map[string]int, len(sorted))
	for i, c := range sorted {
		pos[c] = i
	}
	leaf := make([]int, len(columns))
	for i, c := range columns {
		leaf[i] = pos[c]
	}

	return &StringSchema{
		schema:  parquet.NewSchema(name, group),
		columns: columns,
		leaf:    leaf,
	}, nil
}

// Schema returns the underlying parquet schema.
func (s *StringSchema) Schema() *parquet.Schema {
	return s.schema
}

// Row converts one escaped artifact record. Fields equal to nullToken become NULL.
func (s *StringSchema) Row(record []string, nullToken string) (parquet.Row, error) {
	if len(record) != len(s.columns) {
		return nil, fmt.Errorf("record has %d fields, schema has %d columns", len(record), len(s.columns))
	}
	row := make(parquet.Row, len(record))
	for i, field := range record {
		col := s.leaf[i]
		text, valid, err := UnescapeField(field, nullToken)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", s.columns[i], err)
		}
		if !valid {
			row[col] = parquet.NullValue().Level(0, 0, col)
			continue
		}
		row[col] = parquet.ByteArrayValue([]byte(text)).Level(0, 1, col)
	}
	return row, nil
}

// ToParquet writes the records produced by next as a parquet file to w and
// returns the number of rows written.
func ToParquet(w io.Writer, columns []string, next RowSource, cfg ParquetConfig) (int64, error) {
	if cfg.Name == "" {
		cfg.Name = "table"
	}
	if cfg.RowGroupRows <= 0 {
		cfg.RowGroupRows = 1024
	}

	schema, err := NewStringSchema(cfg.Name, columns)
	if err != nil {
		return 0, err
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return 0, err
	}

	opts := []parquet.WriterOption{
		schema.Schema(),
		parquet.Compression(codec),
		parquet.KeyValueMetadata("table_copier.schema_version", SchemaVersion),
	}
	keys := make([]string, 0, len(cfg.Metadata))
	for k := range cfg.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, parquet.KeyValueMetadata(k, cfg.Metadata[k]))
	}

	pw := parquet.NewWriter(w, opts...)

	var total int64
	batch := make([]parquet.Row, 0, cfg.RowGroupRows)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := pw.WriteRows(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		total += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}
		row, err := schema.Row(rec, cfg.NullToken)
		if err != nil {
			return total, fmt.Errorf("row %d: %w", total+int64(len(batch))+1, err)
		}
		batch = append(batch, row)
		if int64(len(batch)) >= cfg.RowGroupRows {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	if err := pw.Close(); err != nil {
		return total, fmt.Errorf("close parquet writer: %w", err)
	}
	return total, nil
}

func compressionCodec(name string) (compress.Codec, error) {
	switch name {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("unknown parquet compression: %s", name)
	}
}
