package store

import (
	"strings"
	"time"
)

// Filter is a predicate over records. The concrete node types are exported
// so backends can compile the tree to their native query language instead
// of fetching everything and matching in memory.
type Filter interface {
	Match(r Record) bool
}

// Eq matches records whose field equals the value.
func Eq(field string, value any) Filter { return EqFilter{Field: field, Value: value} }

// In matches records whose field equals any of the values.
func In(field string, values ...any) Filter { return InFilter{Field: field, Values: values} }

// And matches when every child matches. And() matches everything.
func And(filters ...Filter) Filter { return AndFilter{Filters: filters} }

// Or matches when at least one child matches.
func Or(filters ...Filter) Filter { return OrFilter{Filters: filters} }

// Before matches records whose timestamp field is strictly before t.
func Before(field string, t time.Time) Filter { return BeforeFilter{Field: field, T: t} }

// After matches records whose timestamp field is strictly after t.
func After(field string, t time.Time) Filter { return AfterFilter{Field: field, T: t} }

type EqFilter struct {
	Field string
	Value any
}

func (f EqFilter) Match(r Record) bool {
	v, ok := lookup(r.Fields, f.Field)
	if !ok {
		return f.Value == nil
	}
	return looseEqual(v, f.Value)
}

type InFilter struct {
	Field  string
	Values []any
}

func (f InFilter) Match(r Record) bool {
	v, ok := lookup(r.Fields, f.Field)
	if !ok {
		return false
	}
	for _, candidate := range f.Values {
		if looseEqual(v, candidate) {
			return true
		}
	}
	return false
}

type AndFilter struct {
	Filters []Filter
}

func (f AndFilter) Match(r Record) bool {
	for _, c := range f.Filters {
		if c != nil && !c.Match(r) {
			return false
		}
	}
	return true
}

type OrFilter struct {
	Filters []Filter
}

func (f OrFilter) Match(r Record) bool {
	for _, c := range f.Filters {
		if c != nil && c.Match(r) {
			return true
		}
	}
	return false
}

type BeforeFilter struct {
	Field string
	T     time.Time
}

func (f BeforeFilter) Match(r Record) bool {
	ts := fieldTime(r, f.Field)
	return !ts.IsZero() && ts.Before(f.T)
}

type AfterFilter struct {
	Field string
	T     time.Time
}

func (f AfterFilter) Match(r Record) bool {
	ts := fieldTime(r, f.Field)
	return !ts.IsZero() && ts.After(f.T)
}

// fieldTime resolves time filters the same way the SQL backend does: the
// created and updated names address record metadata, everything else is a
// field path.
func fieldTime(r Record, field string) time.Time {
	switch field {
	case "created":
		return r.Created
	case "updated":
		return r.Updated
	}
	return r.GetTime(field)
}

// lookup walks a dotted path through nested maps.
func lookup(fields map[string]any, path string) (any, bool) {
	if fields == nil {
		return nil, false
	}
	cur := any(fields)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// looseEqual compares values the way a JSON round-trip would see them:
// all numbers collapse to float64 before comparison.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
