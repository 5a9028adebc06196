package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb" // sqlserver driver
	_ "modernc.org/sqlite"              // sqlite driver
)

// SQLSource reads through database/sql. It serves SQL Server and SQLite.
type SQLSource struct {
	db      *sql.DB
	dialect Dialect
	query   string
	desc    Description
}

// NewSQLSource opens a handle for the dialect's registered driver.
// Like sql.Open, it does not connect.
func NewSQLSource(d Dialect, cfg Config) (*SQLSource, error) {
	db, err := sql.Open(d.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	return newSQLSource(db, d, cfg), nil
}

// NewSQLSourceFromDB wraps an existing handle.
func NewSQLSourceFromDB(db *sql.DB, d Dialect, cfg Config) *SQLSource {
	return newSQLSource(db, d, cfg)
}

func newSQLSource(db *sql.DB, d Dialect, cfg Config) *SQLSource {
	return &SQLSource{
		db:      db,
		dialect: d,
		query:   d.RangeQuery(cfg.Table, cfg.PartitionColumn, cfg.Columns),
		desc: Description{
			Driver:          d.Name,
			Table:           cfg.Table,
			PartitionColumn: cfg.PartitionColumn,
		},
	}
}

// Open reserves one connection and pings it.
func (s *SQLSource) Open(ctx context.Context) (Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.dialect.Name, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", s.dialect.Name, err)
	}
	return &sqlSession{conn: conn, query: s.query}, nil
}

func (s *SQLSource) Describe() Description { return s.desc }

func (s *SQLSource) Close() error {
	return s.db.Close()
}

type sqlSession struct {
	conn  *sql.Conn
	query string
}

func (s *sqlSession) QueryRange(ctx context.Context, lower, upper any) (Cursor, error) {
	rows, err := s.conn.QueryContext(ctx, s.query, lower, upper)
	if err != nil {
		return nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("read result columns: %w", err)
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	return &sqlCursor{rows: rows, columns: columns, values: values, dest: dest}, nil
}

func (s *sqlSession) Close() error {
	return s.conn.Close()
}

type sqlCursor struct {
	rows    *sql.Rows
	columns []string
	values  []any
	dest    []any
}

func (c *sqlCursor) Columns() []string { return c.columns }
func (c *sqlCursor) Next() bool        { return c.rows.Next() }
func (c *sqlCursor) Err() error        { return c.rows.Err() }
func (c *sqlCursor) Close() error      { return c.rows.Close() }

func (c *sqlCursor) Values() ([]any, error) {
	for i := range c.values {
		c.values[i] = nil
	}
	if err := c.rows.Scan(c.dest...); err != nil {
		return nil, err
	}
	return c.values, nil
}
