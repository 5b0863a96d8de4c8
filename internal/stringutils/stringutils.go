// Package stringutils provides utility functions for string manipulation.
package stringutils

import (
	"strings"
	"unicode"
)

// TrimAll removes all whitespace characters from a string,
// including spaces, tabs, newlines, and other Unicode whitespace.
func TrimAll(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// IsEmpty returns true if the string is empty or contains only whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// FirstLine returns s up to its first newline, trimmed, so multi-line role
// output can be squeezed into a single-line banner without wrapping the
// terminal.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Truncate keeps at most max runes of s, appending an ellipsis ("...") when
// it had to cut, so a cut result is max+3 runes long. max <= 0 returns s
// unchanged.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
