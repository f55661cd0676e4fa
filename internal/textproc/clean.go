package textproc

import (
	"strings"
	"unicode"
)

// Clean strips every rune outside the allow-list (letters, digits, underscore,
// whitespace and the punctuation . , ! ? ; : - ' " ( )), collapses runs of
// whitespace to a single space and trims both ends.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	filtered := strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return -1
	}, raw)
	return strings.Join(strings.Fields(filtered), " ")
}

func allowed(r rune) bool {
	switch {
	case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsSpace(r):
		return true
	}
	return strings.ContainsRune(`_.,!?;:-'"()`, r)
}

// isAlnumWord reports whether every rune of w is a letter or a number.
func isAlnumWord(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}
