package utils

import "strings"

// NormalizeWaNumber canonicalizes a WhatsApp address to digits only.
// "+62 811-222-333" and "62811222333" normalize to the same identity;
// returns "" when the input carries no digits.
func NormalizeWaNumber(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
