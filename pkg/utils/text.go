// Package utils provides shared helpers for logging, numbers and display text.
package utils

import "unicode/utf8"

// Truncate shortens s to at most maxLen runes, appending "..." when it cut anything.
// A maxLen of 0 or less returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
