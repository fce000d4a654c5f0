// Package match finds dictionary terms in canonical message text and keeps
// the stored match records in step with the dictionary.
package match

import (
	"strings"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/normalize"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// GenericFilter reports terms too common to be worth matching. It runs
// before surface matching; a term it accepts is never matched.
type GenericFilter func(dictionary.CompiledTerm) bool

// NeverGeneric treats no term as generic.
func NeverGeneric(dictionary.CompiledTerm) bool { return false }

// Matcher computes the set of terms present in a message.
type Matcher struct {
	generic GenericFilter
}

// NewMatcher creates a matcher. A nil filter means NeverGeneric.
func NewMatcher(generic GenericFilter) *Matcher {
	if generic == nil {
		generic = NeverGeneric
	}
	return &Matcher{generic: generic}
}

// text is the per-message view shared by all rules.
type text struct {
	folded string
	tokens []string
	starts map[string][]int // token -> positions
	stats  normalize.TextStats
}

func newText(canonical string) *text {
	folded := normalize.Fold(canonical)
	tokens := normalize.Tokens(folded)
	starts := make(map[string][]int, len(tokens))
	for i, tok := range tokens {
		starts[tok] = append(starts[tok], i)
	}
	return &text{
		folded: folded,
		tokens: tokens,
		starts: starts,
		stats:  normalize.Stats(canonical),
	}
}

// Match returns the IDs of matching terms in ascending order. Only the
// canonical text is consulted; a message without one matches nothing.
func (m *Matcher) Match(msg store.Message, snap *dictionary.Snapshot) []int64 {
	if msg.Canonical == "" || snap == nil {
		return nil
	}
	txt := newText(msg.Canonical)

	var ids []int64
	snap.Each(func(ct dictionary.CompiledTerm) bool {
		if m.generic(ct) {
			return true
		}
		if txt.matches(ct) {
			ids = append(ids, ct.ID)
		}
		return true
	})
	return ids
}

func (t *text) matches(ct dictionary.CompiledTerm) bool {
	switch ct.Rule.Kind {
	case dictionary.ExactToken:
		for _, phrase := range ct.Phrases {
			if t.hasPhrase(phrase) {
				return true
			}
		}
	case dictionary.SubstringKeywords:
		for _, s := range ct.Surfaces {
			if strings.Contains(t.folded, s) {
				return true
			}
		}
	case dictionary.RangeCondition:
		n := t.stats.Chars
		if ct.Rule.Range.Unit == dictionary.UnitWords {
			n = t.stats.Words
		}
		return ct.Rule.Range.Contains(n)
	}
	return false
}

// hasPhrase reports whether phrase occurs as a contiguous token run.
func (t *text) hasPhrase(phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for _, i := range t.starts[phrase[0]] {
		if i+len(phrase) > len(t.tokens) {
			continue
		}
		ok := true
		for j := 1; j < len(phrase); j++ {
			if t.tokens[i+j] != phrase[j] {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
