// Package utils provides small helpers shared across facegate packages.
package utils

import "unicode/utf8"

// Truncate returns s cut to at most maxLen bytes, with "..." appended if it was cut.
// The cut backs off to a rune boundary so the result stays valid UTF-8.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
