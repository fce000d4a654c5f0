// Package dictionary holds the tagging vocabulary: categories, the terms
// inside them, and the immutable Snapshot a matching pass works from.
package dictionary

import (
	"context"
	"fmt"
	"strings"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
)

// Policy selects how the terms of a category are matched.
type Policy string

const (
	// PolicyExact matches a surface as a whole token or a contiguous token run.
	PolicyExact Policy = "exact"
	// PolicySubstring matches a surface anywhere in the canonical text.
	PolicySubstring Policy = "substring"
	// PolicyRange matches when the canonical text size falls within a range.
	PolicyRange Policy = "range"
)

// ParsePolicy validates a policy name. Empty selects PolicyExact.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyExact, nil
	case PolicyExact, PolicySubstring, PolicyRange:
		return p, nil
	default:
		return "", fmt.Errorf("policy %q: %w", s, internalerr.ErrInvalidInput)
	}
}

// Category groups terms (symbols, industries, topics...).
type Category struct {
	ID     int64
	Name   string
	Policy Policy
	Active bool
}

// Term is one dictionary entry. Text is the display form; Metadata is
// free-form and persisted as JSON.
type Term struct {
	ID         int64
	CategoryID int64
	Text       string
	Active     bool
	Metadata   Metadata
}

// Reader is the read side of dictionary persistence.
type Reader interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListTerms(ctx context.Context) ([]Term, error)
}

// SnapshotReader reads categories and terms from one consistent view of
// the store.
type SnapshotReader interface {
	ReadDictionary(ctx context.Context) ([]Category, []Term, error)
}

// Writer is the write side of dictionary persistence. Upserts return the
// row ID; categories are keyed by name, terms by (category, text).
type Writer interface {
	UpsertCategory(ctx context.Context, c Category) (int64, error)
	UpsertTerm(ctx context.Context, t Term) (int64, error)
}

// Load reads the dictionary and compiles a Snapshot. Compile problems are
// returned alongside the snapshot; they never prevent it from being built.
func Load(ctx context.Context, r Reader) (*Snapshot, []error, error) {
	cats, terms, err := readAll(ctx, r)
	if err != nil {
		return nil, nil, err
	}
	snap, problems := Compile(cats, terms)
	return snap, problems, nil
}

// readAll prefers a consistent read when r offers one.
func readAll(ctx context.Context, r Reader) ([]Category, []Term, error) {
	if sr, ok := r.(SnapshotReader); ok {
		cats, terms, err := sr.ReadDictionary(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("read dictionary: %w", err)
		}
		return cats, terms, nil
	}
	cats, err := r.ListCategories(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list categories: %w", err)
	}
	terms, err := r.ListTerms(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list terms: %w", err)
	}
	return cats, terms, nil
}
