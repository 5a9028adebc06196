package source

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between drivers.
type Dialect struct {
	Name        string
	DriverName  string // database/sql driver name
	quote       func(part string) string
	placeholder func(n int) string
}

var (
	Postgres = Dialect{
		Name:        "postgres",
		quote:       func(p string) string { return `"` + strings.ReplaceAll(p, `"`, `""`) + `"` },
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}

	SQLServer = Dialect{
		Name:        "sqlserver",
		DriverName:  "sqlserver",
		quote:       func(p string) string { return "[" + strings.ReplaceAll(p, "]", "]]") + "]" },
		placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
	}

	SQLite = Dialect{
		Name:        "sqlite",
		DriverName:  "sqlite",
		quote:       func(p string) string { return `"` + strings.ReplaceAll(p, `"`, `""`) + `"` },
		placeholder: func(int) string { return "?" },
	}
)

// QuoteIdentifier quotes a possibly dot-qualified identifier.
func (d Dialect) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.quote(p)
	}
	return strings.Join(parts, ".")
}

// RangeQuery builds the half-open range query. The bounds are the first and
// second parameters. Rows are ordered by the partition column so that
// re-extracting an unchanged partition yields an identical artifact.
func (d Dialect) RangeQuery(table, partitionColumn string, columns []string) string {
	selectList := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = d.QuoteIdentifier(c)
		}
		selectList = strings.Join(quoted, ", ")
	}

	col := d.QuoteIdentifier(partitionColumn)
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s >= %s AND %s < %s ORDER BY %s",
		selectList,
		d.QuoteIdentifier(table),
		col, d.placeholder(1),
		col, d.placeholder(2),
		col,
	)
}
