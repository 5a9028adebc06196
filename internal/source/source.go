// Package source reads one time slice of a relational table at a time.
package source

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// QueryableSource opens sessions against a relational table.
type QueryableSource interface {
	// Open acquires a connection-scoped session. The caller must Close it.
	Open(ctx context.Context) (Session, error)

	// Describe names the table and partition column, for logs and lineage.
	Describe() Description

	// Close releases pooled connections.
	Close() error
}

// Session is one exclusive connection to the source.
type Session interface {
	// QueryRange selects every row whose partition column v satisfies
	// lower <= v < upper. Bounds are always bound as parameters.
	QueryRange(ctx context.Context, lower, upper any) (Cursor, error)

	// Close returns the connection.
	Close() error
}

// Cursor iterates a range query's result.
type Cursor interface {
	// Columns returns the result's column names in query order.
	Columns() []string
	Next() bool
	// Values returns the current row. The slice is only valid until the next call to Next.
	Values() ([]any, error)
	Err() error
	Close() error
}

// Description identifies what a source reads.
type Description struct {
	Driver          string
	Table           string
	PartitionColumn string
}

// Config configures a source.
type Config struct {
	Driver          string // "postgres" | "sqlserver" | "sqlite"
	DSN             string
	Table           string // optionally schema-qualified, e.g. "public.orders"
	PartitionColumn string
	Columns         []string // empty selects every column
	MaxConns        int
}

var ErrUnknownDriver = errors.New("unknown source driver")

// New constructs a source for the configured driver.
func New(ctx context.Context, cfg Config) (QueryableSource, error) {
	if cfg.Table == "" || cfg.PartitionColumn == "" {
		return nil, errors.New("source table and partition column are required")
	}

	switch cfg.Driver {
	case "postgres", "postgresql", "pgx":
		return NewPostgresSource(ctx, cfg)
	case "sqlserver", "mssql":
		return NewSQLSource(SQLServer, cfg)
	case "sqlite":
		return NewSQLSource(SQLite, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// IsConnectionError reports whether err means the source could not be reached
// or the connection was lost, as opposed to the query being rejected.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
