package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// Malagasy mobile operator prefixes accepted by the gateway.
var operatorPrefixes = []string{"032", "033", "034", "037", "038"}

const localPhoneLength = 10

// NormalizePhone strips all whitespace and rewrites the +261 international
// prefix to the local leading zero. Every phone number is normalized before
// storage and before any gateway call, so equality-based correlation is
// well defined.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	normalized := b.String()
	if strings.HasPrefix(normalized, "+261") {
		normalized = "0" + strings.TrimPrefix(normalized, "+261")
	}
	return normalized
}

// ValidatePhone checks a normalized phone number against the fixed local
// format: exactly 10 digits starting with a known operator prefix.
func ValidatePhone(phone string) error {
	if len(phone) != localPhoneLength {
		return fmt.Errorf("%w: phone %q must have %d digits", ErrValidation, phone, localPhoneLength)
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: phone %q contains non-digit characters", ErrValidation, phone)
		}
	}
	for _, prefix := range operatorPrefixes {
		if strings.HasPrefix(phone, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: phone %q has an unknown operator prefix", ErrValidation, phone)
}
