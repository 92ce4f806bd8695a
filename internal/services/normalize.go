package services

import "strings"

// Normalize collapses every run of whitespace (including newlines) to a
// single space and trims the ends. Idempotent; never lengthens its input.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// signalLength is the length of s after stripping all whitespace, used to
// judge whether extraction produced meaningful content.
func signalLength(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		n += len(f)
	}
	return n
}
