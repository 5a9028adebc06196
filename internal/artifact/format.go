package artifact

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-table-copier/internal/tables"
)

// FormatValue renders a driver value as an escaped artifact field that
// parses back to the same value. SQL NULL becomes nullToken.
func FormatValue(v any, nullToken string) (string, error) {
	switch x := v.(type) {
	case nil:
		return nullToken, nil
	case []byte:
		if utf8.Valid(x) {
			return tables.EscapeText(string(x)), nil
		}
		return tables.EscapeBytes(x), nil
	case driver.Valuer:
		val, err := x.Value()
		if err != nil {
			return "", fmt.Errorf("value of %T: %w", v, err)
		}
		if _, loop := val.(driver.Valuer); loop {
			return tables.EscapeText(fmt.Sprint(val)), nil
		}
		return FormatValue(val, nullToken)
	}
	s, err := formatText(v)
	if err != nil {
		return "", err
	}
	return tables.EscapeText(s), nil
}

// ParseField reverses FormatValue. valid is false for the null token.
func ParseField(field, nullToken string) (value string, valid bool, err error) {
	return tables.UnescapeField(field, nullToken)
}

func formatText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case *big.Int:
		return x.String(), nil
	case [16]byte:
		// pgx decodes uuid columns to a bare array.
		return uuid.UUID(x).String(), nil
	case map[string]any, []any:
		// json and array columns
		b, err := json.Marshal(x)
		if err != nil {
			return "", fmt.Errorf("encode %T: %w", v, err)
		}
		return string(b), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}
