// Package store defines the collection contract the workflow engine is
// written against: named collections of schemaless records with CRUD,
// filtered queries and change subscriptions. Memory fulfils the contract
// in tests and in the smoke binary; pg fulfils it against Postgres.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("store: record not found")
	ErrUnavailable = errors.New("store: unavailable")
)

// Record is one document in a collection. Fields is schemaless; the typed
// accessors tolerate the value shapes a JSON round-trip produces.
type Record struct {
	ID         string
	Collection string
	Created    time.Time
	Updated    time.Time
	Fields     map[string]any
}

// ChangeAction discriminates subscription events.
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

// Change is delivered to subscribers after a write commits.
type Change struct {
	Action ChangeAction
	Record Record
}

// FindOptions tunes a Find call. Expand maps a relation field to the
// collection its value points into; resolved records land under the
// "expand" key of Fields, one level deep.
type FindOptions struct {
	Sort   string
	Desc   bool
	Expand map[string]string
	Limit  int
}

// Store is the collection API. There are no multi-record transactions;
// every call is an independent round-trip that may fail on its own.
type Store interface {
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Record, error)
	FindOne(ctx context.Context, collection, id string) (Record, error)
	Create(ctx context.Context, collection string, fields map[string]any) (Record, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) (Record, error)
	Delete(ctx context.Context, collection, id string) error

	// Subscribe returns a channel of committed changes for one collection.
	// The channel is closed when ctx ends. Slow consumers drop events
	// rather than block writers.
	Subscribe(ctx context.Context, collection string) <-chan Change
}

// Clone returns an independent copy of the record. Stores hand out clones
// so callers can never mutate shared state.
func (r Record) Clone() Record {
	out := r
	out.Fields = cloneFields(r.Fields)
	return out
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// --- typed accessors ---

// Get resolves a possibly dotted path ("data.requester_id") through nested
// maps. The boolean reports whether the full path exists.
func (r Record) Get(path string) (any, bool) {
	return lookup(r.Fields, path)
}

func (r Record) GetString(path string) string {
	v, _ := r.Get(path)
	s, _ := v.(string)
	return s
}

func (r Record) GetBool(path string) bool {
	v, _ := r.Get(path)
	b, _ := v.(bool)
	return b
}

// GetInt accepts int, int64 and float64 (JSON numbers decode as float64).
func (r Record) GetInt(path string) int {
	v, _ := r.Get(path)
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

// GetTime accepts time.Time and RFC3339(Nano) strings.
func (r Record) GetTime(path string) time.Time {
	v, _ := r.Get(path)
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func (r Record) GetStringSlice(path string) []string {
	v, _ := r.Get(path)
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (r Record) GetMap(path string) map[string]any {
	v, _ := r.Get(path)
	m, _ := v.(map[string]any)
	return m
}

func (r Record) GetList(path string) []any {
	v, _ := r.Get(path)
	l, _ := v.([]any)
	return l
}
