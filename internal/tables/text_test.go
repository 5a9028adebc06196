package tables

import (
	"errors"
	"testing"
)

func TestEscapeTextRoundTrip(t *testing.T) {
	for _, s := range []string{
		"",
		"plain",
		"line1\r\nline2",
		`C:\temp\new`,
		`\N`,
		`\x00`,
		"\\\r\\",
	} {
		field := EscapeText(s)
		got, valid, err := UnescapeField(field, DefaultNullToken)
		if err != nil {
			t.Fatalf("UnescapeField(%q): %v", field, err)
		}
		if !valid || got != s {
			t.Errorf("round trip of %q = %q (valid=%v)", s, got, valid)
		}
		if field == DefaultNullToken {
			t.Errorf("EscapeText(%q) collides with the null token", s)
		}
	}
}

func TestUnescapeFieldNull(t *testing.T) {
	if _, valid, err := UnescapeField(`\N`, ""); err != nil || valid {
		t.Errorf("default null token: valid=%v err=%v", valid, err)
	}
	if _, valid, err := UnescapeField(`\NULL`, `\NULL`); err != nil || valid {
		t.Errorf("custom null token: valid=%v err=%v", valid, err)
	}
	if got, valid, err := UnescapeField("", `\N`); err != nil || !valid || got != "" {
		t.Errorf("empty field = %q valid=%v err=%v", got, valid, err)
	}
}

func TestEscapeBytes(t *testing.T) {
	p := []byte{0xde, 0xad, 0x00}
	got, valid, err := UnescapeField(EscapeBytes(p), DefaultNullToken)
	if err != nil || !valid || got != string(p) {
		t.Errorf("binary round trip = %q valid=%v err=%v", got, valid, err)
	}
}

func TestValidateNullToken(t *testing.T) {
	for _, ok := range []string{`\N`, `\NULL`, `\0`} {
		if err := ValidateNullToken(ok); err != nil {
			t.Errorf("%q rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "NULL", `\`, `\\`, `\r`, `\x`} {
		if err := ValidateNullToken(bad); !errors.Is(err, ErrInvalidNullToken) {
			t.Errorf("%q accepted", bad)
		}
	}
}
