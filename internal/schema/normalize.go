package schema

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key is a column label folded for loose comparison. It only ever contains
// characters in [0-9a-z].
type Key string

// Normalize folds a column label into its comparison key: NFKC compatibility
// folding, lower-casing, then dropping every rune outside [0-9a-z].
// "MQ2 Value" and "mq2_value" both become "mq2value".
func Normalize(label string) Key {
	folded := strings.ToLower(norm.NFKC.String(label))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	return Key(b.String())
}

// RawLabel is the trimmed, lower-cased label with punctuation intact. It is
// what keeps "timestamp_ms" (soil) apart from "timestamp(ms)" (temperature).
func RawLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
