// Package stringutil provides small string helpers shared across the CLI.
package stringutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TruncateRunes truncates s to at most maxRunes runes, appending suffix when
// truncation occurs. Safe for multi-byte UTF-8 content.
func TruncateRunes(s string, maxRunes int, suffix string) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + suffix
}

// CapitalizeFirst upper-cases the first rune of s.
func CapitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// FirstLine returns the content up to the first newline.
func FirstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
