package dictionary

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
)

// Metadata keys understood by the typed view.
const (
	KeyIndustry     = "industry"
	KeyIndustryName = "industry_name"
	KeyKeywords     = "keywords"
	KeyRange        = "range"
)

// Unit is what a range condition measures.
type Unit string

const (
	UnitChars Unit = "chars"
	UnitWords Unit = "words"
)

// Range bounds a size measure. Max 0 means unbounded.
type Range struct {
	Unit Unit `json:"unit" yaml:"unit"`
	Min  int  `json:"min" yaml:"min"`
	Max  int  `json:"max,omitempty" yaml:"max,omitempty"`
}

// Contains reports whether n lies within the range.
func (r Range) Contains(n int) bool {
	if n < r.Min {
		return false
	}
	return r.Max == 0 || n <= r.Max
}

// TermMeta is the typed view over Metadata.
type TermMeta struct {
	Industry string
	Keywords []string
	Range    *Range
}

// MetaError lists the metadata fields that could not be read.
type MetaError struct {
	Problems []string
}

func (e *MetaError) Error() string {
	return "term metadata: " + strings.Join(e.Problems, "; ")
}

func (e *MetaError) Unwrap() error { return internalerr.ErrMalformedMetadata }

// Metadata is a term's free-form attribute bag.
type Metadata map[string]any

// DecodeMetadata parses stored JSON. Empty input yields empty metadata.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w: %v", internalerr.ErrMalformedMetadata, err)
	}
	if m == nil {
		m = Metadata{}
	}
	return m, nil
}

// Encode renders metadata as JSON for storage.
func (m Metadata) Encode() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Clone returns a shallow copy with the keyword list copied.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if kws, ok := out[KeyKeywords]; ok {
		if list, ok := stringList(kws); ok {
			out[KeyKeywords] = list
		}
	}
	return out
}

// Industry returns the industry label, if one is present and a string.
func (m Metadata) Industry() (string, bool) {
	for _, key := range []string{KeyIndustry, KeyIndustryName} {
		if v, ok := m[key]; ok {
			s, isString := v.(string)
			s = strings.TrimSpace(s)
			if isString && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// Keywords returns the keyword list, skipping entries that are not strings.
func (m Metadata) Keywords() []string {
	list, _ := stringList(m[KeyKeywords])
	return list
}

// WithKeyword returns a copy with kw added to the keyword set.
func (m Metadata) WithKeyword(kw string) Metadata {
	out := m.Clone()
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return out
	}
	list := out.Keywords()
	for _, existing := range list {
		if existing == kw {
			return out
		}
	}
	out[KeyKeywords] = append(list, kw)
	return out
}

// WithoutKeyword returns a copy with kw removed from the keyword set.
func (m Metadata) WithoutKeyword(kw string) Metadata {
	out := m.Clone()
	kw = strings.TrimSpace(kw)
	list := out.Keywords()
	kept := make([]string, 0, len(list))
	for _, existing := range list {
		if existing != kw {
			kept = append(kept, existing)
		}
	}
	if _, had := out[KeyKeywords]; had {
		out[KeyKeywords] = kept
	}
	return out
}

// WithIndustry returns a copy labelled with the given industry. An empty name
// removes the label.
func (m Metadata) WithIndustry(name string) Metadata {
	out := m.Clone()
	delete(out, KeyIndustryName)
	name = strings.TrimSpace(name)
	if name == "" {
		delete(out, KeyIndustry)
		return out
	}
	out[KeyIndustry] = name
	return out
}

// WithRange returns a copy carrying a range condition.
func (m Metadata) WithRange(r Range) Metadata {
	out := m.Clone()
	out[KeyRange] = map[string]any{
		"unit": string(r.Unit),
		"min":  r.Min,
		"max":  r.Max,
	}
	return out
}

// Parse builds the typed view. Fields that parse are always returned; the
// error, a *MetaError, lists the ones that did not.
func (m Metadata) Parse() (TermMeta, error) {
	var tm TermMeta
	var problems []string

	for _, key := range []string{KeyIndustry, KeyIndustryName} {
		v, ok := m[key]
		if !ok || tm.Industry != "" {
			continue
		}
		s, isString := v.(string)
		if !isString {
			problems = append(problems, fmt.Sprintf("%s: want string, got %T", key, v))
			continue
		}
		tm.Industry = strings.TrimSpace(s)
	}

	if v, ok := m[KeyKeywords]; ok {
		list, clean := stringList(v)
		tm.Keywords = list
		if !clean {
			problems = append(problems, fmt.Sprintf("%s: want list of strings, got %T", KeyKeywords, v))
		}
	}

	if v, ok := m[KeyRange]; ok {
		r, err := parseRange(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", KeyRange, err))
		} else {
			tm.Range = &r
		}
	}

	if len(problems) > 0 {
		return tm, &MetaError{Problems: problems}
	}
	return tm, nil
}

func parseRange(v any) (Range, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Range{}, fmt.Errorf("want object, got %T", v)
	}

	var r Range
	switch u := obj["unit"].(type) {
	case nil:
		r.Unit = UnitChars
	case string:
		r.Unit = Unit(strings.ToLower(strings.TrimSpace(u)))
	default:
		return Range{}, fmt.Errorf("unit: want string, got %T", u)
	}
	if r.Unit != UnitChars && r.Unit != UnitWords {
		return Range{}, fmt.Errorf("unknown unit %q", r.Unit)
	}

	var err error
	if r.Min, err = intField(obj, "min"); err != nil {
		return Range{}, err
	}
	if r.Max, err = intField(obj, "max"); err != nil {
		return Range{}, err
	}
	if r.Min < 0 || r.Max < 0 {
		return Range{}, fmt.Errorf("negative bound")
	}
	if r.Max != 0 && r.Max < r.Min {
		return Range{}, fmt.Errorf("max %d below min %d", r.Max, r.Min)
	}
	return r, nil
}

func intField(obj map[string]any, key string) (int, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s: not an integer", key)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s: %v", key, err)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%s: want number, got %T", key, v)
	}
}

// stringList reads a list of strings from decoded JSON or YAML. The bool is
// false when some entries were not strings; those entries are skipped.
func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case nil:
		return nil, true
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, true
	case []any:
		out := make([]string, 0, len(list))
		clean := true
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				clean = false
				continue
			}
			out = append(out, s)
		}
		return out, clean
	default:
		return nil, false
	}
}
