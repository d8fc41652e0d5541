// Package textnorm strips formatting artifacts from text extracted out of poem pages.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize removes every whitespace rune from text, including non-breaking
// (U+00A0) and ideographic (U+3000) spaces that the source pages use for layout.
// It never fails and Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	return strings.Map(func(r rune) rune {
		if isSpace(r) {
			return -1
		}
		return r
	}, text)
}

// isSpace extends unicode.IsSpace with the ASCII information separators
// (U+001C..U+001F) which regular-expression \s classes also treat as blanks.
func isSpace(r rune) bool {
	if r >= 0x1c && r <= 0x1f {
		return true
	}
	return unicode.IsSpace(r)
}
