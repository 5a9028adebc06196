package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads from PostgreSQL through a pgx pool.
type PostgresSource struct {
	pool  *pgxpool.Pool
	query string
	desc  Description
}

// NewPostgresSource creates a pool. Connections are established lazily, so
// an unreachable server surfaces from Open rather than here.
func NewPostgresSource(ctx context.Context, cfg Config) (*PostgresSource, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	return &PostgresSource{
		pool:  pool,
		query: Postgres.RangeQuery(cfg.Table, cfg.PartitionColumn, cfg.Columns),
		desc: Description{
			Driver:          Postgres.Name,
			Table:           cfg.Table,
			PartitionColumn: cfg.PartitionColumn,
		},
	}, nil
}

// Open acquires a dedicated connection from the pool.
func (s *PostgresSource) Open(ctx context.Context) (Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres connection: %w", err)
	}
	return &pgSession{conn: conn, query: s.query}, nil
}

func (s *PostgresSource) Describe() Description { return s.desc }

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

type pgSession struct {
	conn  *pgxpool.Conn
	query string
}

func (s *pgSession) QueryRange(ctx context.Context, lower, upper any) (Cursor, error) {
	rows, err := s.conn.Query(ctx, s.query, lower, upper)
	if err != nil {
		return nil, err
	}

	// pgx defers statement errors to the row stream. Without a row
	// description the statement failed; drain it to get the error.
	fields := rows.FieldDescriptions()
	if len(fields) == 0 {
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("range query returned no columns")
	}

	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	return &pgCursor{rows: rows, columns: columns}, nil
}

func (s *pgSession) Close() error {
	s.conn.Release()
	return nil
}

type pgCursor struct {
	rows    pgx.Rows
	columns []string
}

func (c *pgCursor) Columns() []string      { return c.columns }
func (c *pgCursor) Next() bool             { return c.rows.Next() }
func (c *pgCursor) Values() ([]any, error) { return c.rows.Values() }
func (c *pgCursor) Err() error             { return c.rows.Err() }

func (c *pgCursor) Close() error {
	c.rows.Close()
	return c.rows.Err()
}
