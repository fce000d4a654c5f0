package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
)

// UpsertCategory inserts or updates a category keyed by name.
func (s *Store) UpsertCategory(ctx context.Context, c dictionary.Category) (int64, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return 0, fmt.Errorf("category without name: %w", internalerr.ErrInvalidInput)
	}
	if c.Policy == "" {
		c.Policy = dictionary.PolicyExact
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.catByName[c.Name]; ok {
		c.ID = id
	} else {
		c.ID = s.allocID()
		s.catByName[c.Name] = c.ID
	}
	s.categories[c.ID] = c
	return c.ID, nil
}

// UpsertTerm inserts or updates a term keyed by (category, text).
func (s *Store) UpsertTerm(ctx context.Context, t dictionary.Term) (int64, error) {
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return 0, fmt.Errorf("term without text: %w", internalerr.ErrInvalidInput)
	}
	raw, err := t.Metadata.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[t.CategoryID]; !ok {
		return 0, fmt.Errorf("category %d: %w", t.CategoryID, internalerr.ErrNotFound)
	}

	key := termKey{t.CategoryID, t.Text}
	if id, ok := s.termIndex[key]; ok {
		t.ID = id
	} else {
		t.ID = s.allocID()
		s.termIndex[key] = t.ID
	}
	t.Metadata = nil
	s.terms[t.ID] = storedTerm{term: t, meta: raw}
	return t.ID, nil
}

// SetTermActive toggles a term.
func (s *Store) SetTermActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.terms[id]
	if !ok {
		return fmt.Errorf("term %d: %w", id, internalerr.ErrNotFound)
	}
	st.term.Active = active
	s.terms[id] = st
	return nil
}

// UpdateTermMetadata replaces a term's metadata.
func (s *Store) UpdateTermMetadata(ctx context.Context, id int64, meta dictionary.Metadata) error {
	raw, err := meta.Encode()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.SetTermMetadataRaw(id, raw)
}

// SetTermMetadataRaw stores metadata bytes as-is, valid JSON or not. It lets
// tests reproduce rows written by other tools.
func (s *Store) SetTermMetadataRaw(id int64, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.terms[id]
	if !ok {
		return fmt.Errorf("term %d: %w", id, internalerr.ErrNotFound)
	}
	st.meta = append([]byte(nil), raw...)
	s.terms[id] = st
	return nil
}

// ListCategories returns all categories ordered by ID.
func (s *Store) ListCategories(ctx context.Context) ([]dictionary.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categoriesLocked(), nil
}

// ListTerms returns all terms ordered by ID. Terms whose stored metadata
// cannot be decoded are returned without metadata.
func (s *Store) ListTerms(ctx context.Context) ([]dictionary.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.termsLocked(), nil
}

// ReadDictionary reads categories and terms under one lock.
func (s *Store) ReadDictionary(ctx context.Context) ([]dictionary.Category, []dictionary.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categoriesLocked(), s.termsLocked(), nil
}

func (s *Store) categoriesLocked() []dictionary.Category {
	out := make([]dictionary.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) termsLocked() []dictionary.Term {
	out := make([]dictionary.Term, 0, len(s.terms))
	for id, st := range s.terms {
		t := st.term
		meta, err := dictionary.DecodeMetadata(st.meta)
		if err != nil {
			slog.Warn("term metadata unreadable", "term", id, "error", err)
		}
		t.Metadata = meta
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
