// Package phone normalizes customer and employee phone numbers into E.164-ish
// form before they are persisted.
package phone

import (
	"errors"
	"strings"
)

var ErrInvalid = errors.New("invalid phone number")

// Normalize cleans raw into +<digits> form. Separators (spaces, dashes, dots,
// parentheses) are stripped, a leading 00 becomes +, and a bare national
// number gets defaultCountryCode (digits only, e.g. "221") prepended.
func Normalize(raw string, defaultCountryCode string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", ErrInvalid
	}

	switch {
	case strings.HasPrefix(cleaned, "+"):
		cleaned = cleaned[1:]
	case strings.HasPrefix(cleaned, "00"):
		cleaned = cleaned[2:]
	default:
		cleaned = strings.TrimPrefix(cleaned, "0")
		code := strings.TrimPrefix(strings.TrimSpace(defaultCountryCode), "+")
		cleaned = code + cleaned
	}

	if cleaned == "" || !isDigits(cleaned) {
		return "", ErrInvalid
	}
	if len(cleaned) < 6 || len(cleaned) > 15 {
		return "", ErrInvalid
	}

	return "+" + cleaned, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
