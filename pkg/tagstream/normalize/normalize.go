// Package normalize turns raw channel text into the canonical form that
// matching and counting operate on.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// scriptTable collapses Arabic letter forms onto their Persian equivalents.
// Targets never appear as keys, so applying the table twice is a no-op.
var scriptTable = map[rune]rune{
	'ك': 'ک',
	'ي': 'ی',
	'ى': 'ی',
	'ؤ': 'و',
	'إ': 'ا',
	'أ': 'ا',
	'ٱ': 'ا',
	'ة': 'ه',
}

const zwnj = '\u200c'

// zeroWidth lists format characters that are dropped outright.
var zeroWidth = map[rune]struct{}{
	'\u200b': {}, // zero width space
	'\u200d': {}, // zero width joiner
	'\u200e': {}, // left-to-right mark
	'\u200f': {}, // right-to-left mark
	'\u2060': {}, // word joiner
	'\ufeff': {}, // byte order mark
}

// hashMarkers are the characters that open a hashtag.
var hashMarkers = map[rune]struct{}{
	'#': {},
	'＃': {},
}

var (
	unifyScript = runes.Map(func(r rune) rune {
		if c, ok := scriptTable[r]; ok {
			return c
		}
		return r
	})
	zwnjToSpace = runes.Map(func(r rune) rune {
		if r == zwnj {
			return ' '
		}
		return r
	})
	dropMarks = runes.Remove(runes.Predicate(func(r rune) bool {
		if unicode.Is(unicode.Mn, r) {
			return true
		}
		_, ok := zeroWidth[r]
		return ok
	}))
)

// Normalize returns the canonical form of text. It never fails: input that
// cannot be transformed is passed through the remaining steps unchanged.
//
// Steps, in order: script unification, mark and zero-width removal, hashtag
// unwrapping, whitespace collapsing. Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	// transform.Chain keeps internal buffers, so build one per call.
	chain := transform.Chain(unifyScript, zwnjToSpace, dropMarks)
	out, _, err := transform.String(chain, text)
	if err != nil {
		out = text
	}

	out = unwrapHashtags(out)
	return strings.Join(strings.Fields(out), " ")
}

// unwrapHashtags drops marker runs that open a token and are directly
// followed by a word rune. "#فولای" becomes "فولای"; "C#" and "a#b" are kept.
func unwrapHashtags(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(rs); {
		if !isMarker(rs[i]) {
			b.WriteRune(rs[i])
			i++
			continue
		}

		j := i
		for j < len(rs) && isMarker(rs[j]) {
			j++
		}

		atTokenStart := i == 0 || !IsWordRune(rs[i-1])
		followedByWord := j < len(rs) && IsWordRune(rs[j])
		if !(atTokenStart && followedByWord) {
			for _, r := range rs[i:j] {
				b.WriteRune(r)
			}
		}
		i = j
	}
	return b.String()
}

func isMarker(r rune) bool {
	_, ok := hashMarkers[r]
	return ok
}

// IsWordRune reports whether r belongs inside a token.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || unicode.Is(unicode.Mc, r)
}
