package dictionary

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cognicore/tagstream/pkg/tagstream/normalize"
)

// RuleKind is the compiled form of a category Policy.
type RuleKind int

const (
	ExactToken RuleKind = iota
	SubstringKeywords
	RangeCondition
)

func (k RuleKind) String() string {
	switch k {
	case ExactToken:
		return "exact"
	case SubstringKeywords:
		return "substring"
	case RangeCondition:
		return "range"
	default:
		return fmt.Sprintf("RuleKind(%d)", int(k))
	}
}

// Rule is how a compiled term decides whether it matches. Range is only
// meaningful for RangeCondition.
type Rule struct {
	Kind  RuleKind
	Range Range
}

// CompiledTerm is a term prepared for matching. Surfaces are normalized and
// case-folded; Phrases holds the token sequence of each surface.
type CompiledTerm struct {
	ID         int64
	CategoryID int64
	Category   string
	Text       string
	Industry   string
	Surfaces   []string
	Phrases    [][]string
	Rule       Rule
}

// Snapshot is an immutable view of the active dictionary. Build one per
// matching pass; edits made after the build are not visible through it.
type Snapshot struct {
	terms      []CompiledTerm
	byID       map[int64]int
	categories map[int64]Category
}

var (
	errRangeFallback = errors.New("range policy without valid range, using substring")
	errNoSurface     = errors.New("no matchable surface")
)

// TermProblem is a compile problem with one term.
type TermProblem struct {
	TermID int64
	Text   string
	Err    error
}

func (p *TermProblem) Error() string {
	return fmt.Sprintf("term %d (%s): %v", p.TermID, p.Text, p.Err)
}

func (p *TermProblem) Unwrap() error { return p.Err }

// Compile builds a Snapshot from every active term in an active category.
// Problems with individual terms are returned and the term is either
// degraded (a broken range falls back to substring matching) or skipped
// (nothing left to match on).
func Compile(cats []Category, terms []Term) (*Snapshot, []error) {
	snap := &Snapshot{
		byID:       make(map[int64]int),
		categories: make(map[int64]Category, len(cats)),
	}
	for _, c := range cats {
		snap.categories[c.ID] = c
	}

	sorted := make([]Term, len(terms))
	copy(sorted, terms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var problems []error
	for _, t := range sorted {
		cat, ok := snap.categories[t.CategoryID]
		if !ok || !cat.Active || !t.Active {
			continue
		}

		meta, err := t.Metadata.Parse()
		if err != nil {
			problems = append(problems, &TermProblem{TermID: t.ID, Text: t.Text, Err: err})
		}

		ct := CompiledTerm{
			ID:         t.ID,
			CategoryID: t.CategoryID,
			Category:   cat.Name,
			Text:       t.Text,
			Industry:   meta.Industry,
		}
		ct.Surfaces, ct.Phrases = surfaces(t.Text, meta.Keywords)

		switch cat.Policy {
		case PolicySubstring:
			ct.Rule = Rule{Kind: SubstringKeywords}
		case PolicyRange:
			if meta.Range != nil {
				ct.Rule = Rule{Kind: RangeCondition, Range: *meta.Range}
			} else {
				problems = append(problems, &TermProblem{TermID: t.ID, Text: t.Text, Err: errRangeFallback})
				ct.Rule = Rule{Kind: SubstringKeywords}
			}
		default:
			ct.Rule = Rule{Kind: ExactToken}
		}

		if ct.Rule.Kind != RangeCondition && len(ct.Surfaces) == 0 {
			problems = append(problems, &TermProblem{TermID: t.ID, Text: t.Text, Err: errNoSurface})
			continue
		}

		snap.byID[ct.ID] = len(snap.terms)
		snap.terms = append(snap.terms, ct)
	}
	return snap, problems
}

func surfaces(text string, keywords []string) ([]string, [][]string) {
	seen := make(map[string]struct{}, len(keywords)+1)
	var out []string
	var phrases [][]string
	for _, raw := range append([]string{text}, keywords...) {
		s := normalize.Fold(normalize.Normalize(raw))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		phrases = append(phrases, normalize.Tokens(s))
	}
	return out, phrases
}

// Terms returns the compiled terms ordered by ID. The slice is a copy; the
// terms themselves must be treated as read-only.
func (s *Snapshot) Terms() []CompiledTerm {
	out := make([]CompiledTerm, len(s.terms))
	copy(out, s.terms)
	return out
}

// Len is the number of compiled terms.
func (s *Snapshot) Len() int { return len(s.terms) }

// Term looks up a compiled term by ID.
func (s *Snapshot) Term(id int64) (CompiledTerm, bool) {
	i, ok := s.byID[id]
	if !ok {
		return CompiledTerm{}, false
	}
	return s.terms[i], true
}

// Category looks up a category by ID, active or not.
func (s *Snapshot) Category(id int64) (Category, bool) {
	c, ok := s.categories[id]
	return c, ok
}

// Each calls fn for every compiled term in ID order until fn returns false.
func (s *Snapshot) Each(fn func(ct CompiledTerm) bool) {
	for _, ct := range s.terms {
		if !fn(ct) {
			return
		}
	}
}
