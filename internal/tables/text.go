package tables

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Artifact fields use backslash escapes so every value survives a CSV
// round-trip. A CSV reader folds a quoted CRLF into LF, so carriage returns
// are written as \r and backslashes as \\. A field starting with a single
// backslash is either the null token or \x<hex> for non-UTF-8 bytes.

// DefaultNullToken is the text written for SQL NULL.
const DefaultNullToken = `\N`

// ErrInvalidNullToken is returned for null tokens that could collide with an
// escaped value.
var ErrInvalidNullToken = errors.New(`null token must be a backslash followed by a character other than \, r or x`)

// ValidateNullToken checks that token cannot be produced by EscapeText or
// EscapeBytes.
func ValidateNullToken(token string) error {
	if len(token) < 2 || token[0] != '\\' {
		return ErrInvalidNullToken
	}
	switch token[1] {
	case '\\', 'r', 'x':
		return ErrInvalidNullToken
	}
	return nil
}

// EscapeText renders s as an artifact field.
func EscapeText(s string) string {
	if !strings.ContainsAny(s, "\\\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// EscapeBytes renders binary data as an artifact field.
func EscapeBytes(p []byte) string {
	return `\x` + hex.EncodeToString(p)
}

// UnescapeField reverses EscapeText and EscapeBytes. valid is false when the
// field is the null token.
func UnescapeField(field, nullToken string) (value string, valid bool, err error) {
	if nullToken == "" {
		nullToken = DefaultNullToken
	}
	if field == nullToken {
		return "", false, nil
	}
	if strings.HasPrefix(field, `\x`) {
		p, err := hex.DecodeString(field[2:])
		if err != nil {
			return "", false, fmt.Errorf("bad binary field: %w", err)
		}
		return string(p), true, nil
	}
	if !strings.Contains(field, `\`) {
		return field, true, nil
	}

	var b strings.Builder
	b.Grow(len(field))
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 == len(field) {
			return "", false, errors.New("field ends in a lone backslash")
		}
		i++
		switch field[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", false, fmt.Errorf("unknown escape \\%c", field[i])
		}
	}
	return b.String(), true, nil
}
