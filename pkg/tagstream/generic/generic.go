// Package generic holds the operator-supplied policy for terms too common
// to be useful, and an advisory report that proposes candidates for it.
package generic

import (
	"sort"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/normalize"
)

// List marks terms as generic by their canonical text. A nil or empty List
// marks nothing. Matching passes read it concurrently; it is not modified
// after construction.
type List struct {
	terms map[string]struct{}
}

// NewList builds a list from raw term texts. Texts are normalized the same
// way dictionary terms are.
func NewList(texts []string) *List {
	l := &List{terms: make(map[string]struct{}, len(texts))}
	for _, t := range texts {
		l.Add(t)
	}
	return l
}

// Add marks a text as generic.
func (l *List) Add(text string) {
	if k := key(text); k != "" {
		l.terms[k] = struct{}{}
	}
}

// Contains reports whether text is on the list.
func (l *List) Contains(text string) bool {
	if l == nil {
		return false
	}
	_, ok := l.terms[key(text)]
	return ok
}

// IsGeneric satisfies match.GenericFilter.
func (l *List) IsGeneric(t dictionary.CompiledTerm) bool {
	return l.Contains(t.Text)
}

// All returns the listed texts sorted.
func (l *List) All() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.terms))
	for t := range l.terms {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of listed texts.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.terms)
}

func key(text string) string {
	return normalize.Fold(normalize.Normalize(text))
}
