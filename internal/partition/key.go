// Package partition splits a CSV input into one spill file per group key.
package partition

import (
	"strings"
	"unicode"
)

// EmptyToken names the spill file of keys that sanitize to nothing.
const EmptyToken = "_empty"

// GroupKey is the ordered tuple of key column values for one row.
type GroupKey []string

// String renders the key for logs, joining composite parts with '|'.
func (k GroupKey) String() string {
	return strings.Join(k, "|")
}

// Equal reports whether k and other hold the same parts in the same order.
func (k GroupKey) Equal(other GroupKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Compare orders keys part by part, then by length.
func (k GroupKey) Compare(other GroupKey) int {
	n := len(k)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(k[i], other[i]); c != 0 {
			return c
		}
	}
	return len(k) - len(other)
}

// Sanitize maps a group key to a filesystem-safe token. The parts are
// concatenated without a separator and every rune that is not a Unicode
// letter or digit is dropped. Distinct keys may collide; callers detect
// that through HeaderRegistry.
func Sanitize(key GroupKey) string {
	var b strings.Builder
	for _, part := range key {
		for _, r := range part {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
	}
	if b.Len() == 0 {
		return EmptyToken
	}
	return b.String()
}
