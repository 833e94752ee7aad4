package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Well-known metadata keys stored next to each badge vector
const (
	MetaTitle               = "title"
	MetaDescription         = "description"
	MetaIssuer              = "issuer"
	MetaSkills              = "skills"
	MetaCriteria            = "criteria"
	MetaCompetency          = "competency"
	MetaAlignment           = "alignment"
	MetaEmploymentOutcome   = "employment_outcome"
	MetaLearningOpportunity = "learning_opportunity"
	MetaRelated             = "related"
	MetaIssuedAt            = "issued_at"
	MetaPopularity          = "popularity"
	MetaContentHash         = "content_hash"
)

// Metadata is a mapping of key to scalar value (string, bool, number or time)
type Metadata map[string]any

// Clone returns a shallow copy. Values are scalars, so the copy is independent.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	copied := make(Metadata, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}

// String returns the value of key as string. Non string scalars are formatted.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// Float returns the value of key as float64 if it holds a number
func (m Metadata) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Time returns the value of key as time.Time. RFC3339 strings and unix seconds are accepted.
func (m Metadata) Time(key string) (time.Time, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	if f, ok := toFloat(v); ok {
		return time.Unix(int64(f), 0).UTC(), true
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// Filter is a conjunction of metadata equality conditions. An empty filter matches everything.
type Filter map[string]any

// Matches reports whether metadata satisfies every condition of the filter.
// Numbers compare by value regardless of their Go type; times compare as instants.
func (f Filter) Matches(metadata Metadata) bool {
	for key, want := range f {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	if fa, ok := toNumber(a); ok {
		fb, ok := toNumber(b)
		return ok && fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := Metadata{"v": b}.Time("v")
		return ok && ta.Equal(tb)
	}
	if tb, ok := b.(time.Time); ok {
		ta, ok := Metadata{"v": a}.Time("v")
		return ok && ta.Equal(tb)
	}
	return a == b
}

// toNumber is toFloat without string parsing, so "1" and 1 stay distinct
func toNumber(v any) (float64, bool) {
	if _, ok := v.(string); ok {
		return 0, false
	}
	return toFloat(v)
}

// Match is a single vector index query hit
type Match struct {
	ID         string
	Similarity float64
	Metadata   Metadata
}

// SortMatches orders matches by descending similarity, ties by ascending id
func SortMatches(matches []*Match) {
	slices.SortStableFunc(matches, func(a, b *Match) int {
		if a.Similarity != b.Similarity {
			if a.Similarity > b.Similarity {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}
