package dictionary

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Seed is the file form of a dictionary.
type Seed struct {
	Categories []SeedCategory `yaml:"categories"`
}

// SeedCategory is a category and its terms. Active defaults to true.
type SeedCategory struct {
	Name   string     `yaml:"name"`
	Policy string     `yaml:"policy,omitempty"`
	Active *bool      `yaml:"active,omitempty"`
	Terms  []SeedTerm `yaml:"terms"`
}

// SeedTerm is one term. Industry, Keywords and Range are folded into the
// term's metadata alongside any extra Metadata keys.
type SeedTerm struct {
	Text     string         `yaml:"text"`
	Active   *bool          `yaml:"active,omitempty"`
	Industry string         `yaml:"industry,omitempty"`
	Keywords []string       `yaml:"keywords,omitempty"`
	Range    *Range         `yaml:"range,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// ImportStats counts what an import wrote.
type ImportStats struct {
	Categories int
	Terms      int
}

// Import upserts every category and term in the seed.
func Import(ctx context.Context, w Writer, seed Seed) (ImportStats, error) {
	var stats ImportStats
	for _, sc := range seed.Categories {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return stats, fmt.Errorf("category without name")
		}
		policy, err := ParsePolicy(sc.Policy)
		if err != nil {
			return stats, fmt.Errorf("category %s: %w", name, err)
		}

		catID, err := w.UpsertCategory(ctx, Category{
			Name:   name,
			Policy: policy,
			Active: boolOr(sc.Active, true),
		})
		if err != nil {
			return stats, fmt.Errorf("upsert category %s: %w", name, err)
		}
		stats.Categories++

		for _, st := range sc.Terms {
			text := strings.TrimSpace(st.Text)
			if text == "" {
				continue
			}
			if _, err := w.UpsertTerm(ctx, Term{
				CategoryID: catID,
				Text:       text,
				Active:     boolOr(st.Active, true),
				Metadata:   st.metadata(),
			}); err != nil {
				return stats, fmt.Errorf("upsert term %s/%s: %w", name, text, err)
			}
			stats.Terms++
		}
	}
	return stats, nil
}

func (st SeedTerm) metadata() Metadata {
	meta := Metadata{}
	for k, v := range st.Metadata {
		meta[k] = v
	}
	if st.Industry != "" {
		meta = meta.WithIndustry(st.Industry)
	}
	for _, kw := range st.Keywords {
		meta = meta.WithKeyword(kw)
	}
	if st.Range != nil {
		meta = meta.WithRange(*st.Range)
	}
	return meta
}

// Export reads the whole dictionary, inactive entries included, back into
// seed form. Categories are ordered by name and terms by text.
func Export(ctx context.Context, r Reader) (Seed, error) {
	cats, terms, err := readAll(ctx, r)
	if err != nil {
		return Seed{}, err
	}

	byCat := make(map[int64][]Term)
	for _, t := range terms {
		byCat[t.CategoryID] = append(byCat[t.CategoryID], t)
	}

	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })

	var seed Seed
	for _, c := range cats {
		sc := SeedCategory{
			Name:   c.Name,
			Policy: string(c.Policy),
			Active: boolPtr(c.Active),
		}
		ts := byCat[c.ID]
		sort.Slice(ts, func(i, j int) bool { return ts[i].Text < ts[j].Text })
		for _, t := range ts {
			sc.Terms = append(sc.Terms, exportTerm(t))
		}
		seed.Categories = append(seed.Categories, sc)
	}
	return seed, nil
}

func exportTerm(t Term) SeedTerm {
	st := SeedTerm{
		Text:   t.Text,
		Active: boolPtr(t.Active),
	}
	meta, _ := t.Metadata.Parse()
	st.Industry = meta.Industry
	st.Keywords = meta.Keywords
	st.Range = meta.Range

	for k, v := range t.Metadata {
		if st.covers(k) {
			continue
		}
		if st.Metadata == nil {
			st.Metadata = make(map[string]any)
		}
		st.Metadata[k] = v
	}
	return st
}

// covers reports whether key is already carried by a typed field. Raw
// values the typed view could not read are exported as-is.
func (st SeedTerm) covers(key string) bool {
	switch key {
	case KeyIndustry, KeyIndustryName:
		return st.Industry != ""
	case KeyKeywords:
		return st.Keywords != nil
	case KeyRange:
		return st.Range != nil
	}
	return false
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func boolPtr(b bool) *bool { return &b }
