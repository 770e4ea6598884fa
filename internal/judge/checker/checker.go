// Package checker decides whether program output matches the expected answer.
package checker

import "strings"

// Normalize collapses every run of whitespace into one space and trims both ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Compare reports whether actual and expected are equal after normalization.
func Compare(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}
