package source

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
)

func TestRangeQuery(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		table   string
		column  string
		columns []string
		want    string
	}{
		{
			name:    "postgres select all",
			dialect: Postgres,
			table:   "orders",
			column:  "date",
			want:    `SELECT * FROM "orders" WHERE "date" >= $1 AND "date" < $2 ORDER BY "date"`,
		},
		{
			name:    "postgres schema qualified with columns",
			dialect: Postgres,
			table:   "public.orders",
			column:  "created_at",
			columns: []string{"id", "amount"},
			want:    `SELECT "id", "amount" FROM "public"."orders" WHERE "created_at" >= $1 AND "created_at" < $2 ORDER BY "created_at"`,
		},
		{
			name:    "sqlserver",
			dialect: SQLServer,
			table:   "dbo.orders",
			column:  "date",
			want:    `SELECT * FROM [dbo].[orders] WHERE [date] >= @p1 AND [date] < @p2 ORDER BY [date]`,
		},
		{
			name:    "sqlite",
			dialect: SQLite,
			table:   "orders",
			column:  "date",
			want:    `SELECT * FROM "orders" WHERE "date" >= ? AND "date" < ? ORDER BY "date"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.dialect.RangeQuery(tt.table, tt.column, tt.columns)
			if got != tt.want {
				t.Errorf("RangeQuery() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestQuoteIdentifierEscapes(t *testing.T) {
	if got := Postgres.QuoteIdentifier(`we"ird`); got != `"we""ird"` {
		t.Errorf("postgres quote = %s", got)
	}
	if got := SQLServer.QuoteIdentifier("we]ird"); got != "[we]]ird]" {
		t.Errorf("sqlserver quote = %s", got)
	}
}

func TestIsConnectionError(t *testing.T) {
	if IsConnectionError(nil) {
		t.Error("nil is not a connection error")
	}
	if !IsConnectionError(fmt.Errorf("query: %w", context.DeadlineExceeded)) {
		t.Error("deadline should count as connection error")
	}
	if !IsConnectionError(fmt.Errorf("scan: %w", driver.ErrBadConn)) {
		t.Error("bad conn should count as connection error")
	}
	if IsConnectionError(errors.New(`relation "orders" does not exist`)) {
		t.Error("rejected query is not a connection error")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "oracle", Table: "t", PartitionColumn: "c"})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected ErrUnknownDriver, got %v", err)
	}
	if _, err := New(context.Background(), Config{Driver: "sqlite"}); err == nil {
		t.Error("expected error for missing table")
	}
}
