package analytics

import (
	"fmt"
	"sort"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// DefaultTopK is the length of each top list.
const DefaultTopK = 10

// Summary is the computed content of one bucket or window.
type Summary struct {
	MessageCount  int
	MatchCount    int
	TopTerms      []store.LabelCount
	TopIndustries []store.LabelCount
	TopCategories []store.LabelCount
}

// Empty reports whether no messages were counted.
func (s Summary) Empty() bool { return s.MessageCount == 0 }

type labelKey struct {
	id    int64
	label string
}

// Counter aggregates message-level match stats. Every label is counted
// once per message no matter how many of its terms the message matched.
type Counter struct {
	messages   int
	matched    int
	terms      map[labelKey]int
	industries map[string]int
	categories map[labelKey]int
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{
		terms:      make(map[labelKey]int),
		industries: make(map[string]int),
		categories: make(map[labelKey]int),
	}
}

// Process consumes one message and its match details. It fails, leaving
// the counter untouched, when a term's metadata cannot be decoded.
func (c *Counter) Process(details []store.MatchDetail) error {
	terms := make(map[labelKey]struct{}, len(details))
	industries := make(map[string]struct{})
	cats := make(map[labelKey]struct{})

	for _, d := range details {
		meta, err := dictionary.DecodeMetadata(d.Metadata)
		if err != nil {
			return fmt.Errorf("term %d: %w", d.TermID, err)
		}
		terms[labelKey{d.TermID, d.TermText}] = struct{}{}
		cats[labelKey{d.CategoryID, d.CategoryName}] = struct{}{}
		if ind, ok := meta.Industry(); ok {
			industries[ind] = struct{}{}
		}
	}

	c.messages++
	if len(terms) > 0 {
		c.matched++
	}
	for k := range terms {
		c.terms[k]++
	}
	for k := range industries {
		c.industries[k]++
	}
	for k := range cats {
		c.categories[k]++
	}
	return nil
}

// Summary returns the counts with each top list cut to k entries.
func (c *Counter) Summary(k int) Summary {
	if k <= 0 {
		k = DefaultTopK
	}
	industries := make(map[labelKey]int, len(c.industries))
	for label, n := range c.industries {
		industries[labelKey{label: label}] = n
	}
	return Summary{
		MessageCount:  c.messages,
		MatchCount:    c.matched,
		TopTerms:      topK(c.terms, k),
		TopIndustries: topK(industries, k),
		TopCategories: topK(c.categories, k),
	}
}

// topK orders by count desc, label asc, id asc.
func topK(counts map[labelKey]int, k int) []store.LabelCount {
	out := make([]store.LabelCount, 0, len(counts))
	for key, n := range counts {
		out = append(out, store.LabelCount{ID: key.id, Label: key.label, Count: n})
	}
	sortLabels(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func sortLabels(l []store.LabelCount) {
	sort.Slice(l, func(i, j int) bool {
		if l[i].Count != l[j].Count {
			return l[i].Count > l[j].Count
		}
		if l[i].Label != l[j].Label {
			return l[i].Label < l[j].Label
		}
		return l[i].ID < l[j].ID
	})
}

// Summarize counts msgs using details grouped by message ID.
func Summarize(msgs []store.Message, details map[int64][]store.MatchDetail, k int) (Summary, error) {
	c := NewCounter()
	for _, m := range msgs {
		if err := c.Process(details[m.ID]); err != nil {
			return Summary{}, fmt.Errorf("message %d: %w", m.ID, err)
		}
	}
	return c.Summary(k), nil
}

func groupDetails(details []store.MatchDetail) map[int64][]store.MatchDetail {
	out := make(map[int64][]store.MatchDetail)
	for _, d := range details {
		out[d.MessageID] = append(out[d.MessageID], d)
	}
	return out
}
