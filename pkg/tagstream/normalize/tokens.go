package normalize

import (
	"strings"
	"unicode"
)

// Tokens splits canonical text on whitespace and punctuation.
func Tokens(canonical string) []string {
	return strings.FieldsFunc(canonical, func(r rune) bool {
		return !IsWordRune(r)
	})
}

// Fold lowercases s for case-insensitive comparison of Latin tickers and
// keywords. Scripts without case are unaffected.
func Fold(s string) string {
	return strings.ToLower(s)
}

// TextStats holds simple size measures of a text.
type TextStats struct {
	Words int
	Chars int // excluding whitespace
}

// Stats measures canonical text. Callers holding raw text should normalize
// it first.
func Stats(canonical string) TextStats {
	chars := 0
	for _, r := range canonical {
		if !unicode.IsSpace(r) {
			chars++
		}
	}
	return TextStats{
		Words: len(Tokens(canonical)),
		Chars: chars,
	}
}
