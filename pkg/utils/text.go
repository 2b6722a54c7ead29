// Package utils provides shared utilities for text, math, and logging.
package utils

import "strings"

// Truncate returns s cut to at most maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// Snippet collapses runs of whitespace in text and keeps the first maxLen runes.
func Snippet(text string, maxLen int) string {
	s := strings.Join(strings.Fields(text), " ")
	if maxLen <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i]
		}
		n++
	}
	return s
}
