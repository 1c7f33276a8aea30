package domain

import "strings"

// DefaultCountryCode is prefixed to numbers that don't carry it.
const DefaultCountryCode = "55"

// Digits strips everything but 0-9.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone keeps digits only and prefixes the default country code
// when missing. An input without digits yields "".
func NormalizePhone(raw string) string {
	d := Digits(raw)
	if d == "" {
		return ""
	}
	if !strings.HasPrefix(d, DefaultCountryCode) {
		d = DefaultCountryCode + d
	}
	return d
}
