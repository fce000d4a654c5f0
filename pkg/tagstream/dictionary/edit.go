package dictionary

import (
	"context"
	"fmt"
	"strings"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
)

// Editor is what single-term edits need from the store.
type Editor interface {
	Reader
	SetTermActive(ctx context.Context, id int64, active bool) error
	UpdateTermMetadata(ctx context.Context, id int64, meta Metadata) error
}

// FindTerm returns the stored term with the given ID.
func FindTerm(ctx context.Context, r Reader, id int64) (Term, error) {
	terms, err := r.ListTerms(ctx)
	if err != nil {
		return Term{}, fmt.Errorf("list terms: %w", err)
	}
	for _, t := range terms {
		if t.ID == id {
			return t, nil
		}
	}
	return Term{}, fmt.Errorf("term %d: %w", id, internalerr.ErrNotFound)
}

// SetActive activates or deactivates a term and returns it as stored.
func SetActive(ctx context.Context, e Editor, id int64, active bool) (Term, error) {
	if err := e.SetTermActive(ctx, id, active); err != nil {
		return Term{}, err
	}
	return FindTerm(ctx, e, id)
}

// AddKeyword adds a keyword surface to a term.
func AddKeyword(ctx context.Context, e Editor, id int64, kw string) (Term, error) {
	if strings.TrimSpace(kw) == "" {
		return Term{}, fmt.Errorf("empty keyword: %w", internalerr.ErrInvalidInput)
	}
	return editMetadata(ctx, e, id, func(m Metadata) Metadata { return m.WithKeyword(kw) })
}

// RemoveKeyword removes a keyword surface from a term. Removing a keyword
// the term does not carry is not an error.
func RemoveKeyword(ctx context.Context, e Editor, id int64, kw string) (Term, error) {
	if strings.TrimSpace(kw) == "" {
		return Term{}, fmt.Errorf("empty keyword: %w", internalerr.ErrInvalidInput)
	}
	return editMetadata(ctx, e, id, func(m Metadata) Metadata { return m.WithoutKeyword(kw) })
}

// SetIndustry labels a term with an industry; empty clears the label.
func SetIndustry(ctx context.Context, e Editor, id int64, name string) (Term, error) {
	return editMetadata(ctx, e, id, func(m Metadata) Metadata { return m.WithIndustry(name) })
}

// editMetadata reads the term, applies fn to a copy of its metadata and
// writes the result back in one update. Concurrent edits of the same term
// are last-writer-wins.
func editMetadata(ctx context.Context, e Editor, id int64, fn func(Metadata) Metadata) (Term, error) {
	t, err := FindTerm(ctx, e, id)
	if err != nil {
		return Term{}, err
	}
	meta := fn(t.Metadata)
	if err := e.UpdateTermMetadata(ctx, id, meta); err != nil {
		return Term{}, fmt.Errorf("update term %d: %w", id, err)
	}
	t.Metadata = meta
	return t, nil
}
