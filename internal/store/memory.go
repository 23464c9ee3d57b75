package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"agendaflow/internal/ids"
)

// Memory implements Store with in-process concurrency safety. It backs the
// test suite and the smoke binary; swap in pg.Store for durability.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]map[string]Record // collection -> id -> record
	subs    map[string]map[int]chan Change
	nextSub int
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]Record),
		subs: make(map[string]map[int]chan Change),
		now:  time.Now,
	}
}

// SetClock overrides the timestamp source. Tests only.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []Record
	for _, rec := range m.data[collection] {
		if filter == nil || filter.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sortRecords(out, opts)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	if len(opts.Expand) > 0 {
		m.expand(out, opts.Expand)
	}
	return out, nil
}

func (m *Memory) FindOne(ctx context.Context, collection, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[collection][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) Create(ctx context.Context, collection string, fields map[string]any) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	now := m.now().UTC()
	rec := Record{
		ID:         ids.New(),
		Collection: collection,
		Created:    now,
		Updated:    now,
		Fields:     cloneFields(fields),
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}

	m.mu.Lock()
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]Record)
	}
	m.data[collection][rec.ID] = rec
	m.mu.Unlock()

	m.publish(collection, Change{Action: ActionCreate, Record: rec.Clone()})
	return rec.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	rec, ok := m.data[collection][id]
	if !ok {
		m.mu.Unlock()
		return Record{}, ErrNotFound
	}
	merged := rec.Clone()
	for k, v := range fields {
		merged.Fields[k] = cloneValue(v)
	}
	merged.Updated = m.now().UTC()
	m.data[collection][id] = merged
	m.mu.Unlock()

	m.publish(collection, Change{Action: ActionUpdate, Record: merged.Clone()})
	return merged.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	rec, ok := m.data[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.data[collection], id)
	m.mu.Unlock()

	m.publish(collection, Change{Action: ActionDelete, Record: rec.Clone()})
	return nil
}

// Subscribe registers a change channel for one collection. The channel is
// closed when ctx ends.
func (m *Memory) Subscribe(ctx context.Context, collection string) <-chan Change {
	ch := make(chan Change, 16)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[int]chan Change)
	}
	m.subs[collection][id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[collection], id)
		close(ch)
		m.mu.Unlock()
	}()

	return ch
}

func (m *Memory) publish(collection string, c Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs[collection] {
		select {
		case ch <- c:
		default:
			// Drop when the subscriber is slow to avoid blocking writers.
		}
	}
}

func (m *Memory) expand(recs []Record, expand map[string]string) {
	for i := range recs {
		var resolved map[string]any
		for field, target := range expand {
			refID := recs[i].GetString(field)
			if refID == "" {
				continue
			}
			m.mu.RLock()
			ref, ok := m.data[target][refID]
			m.mu.RUnlock()
			if !ok {
				continue
			}
			if resolved == nil {
				resolved = map[string]any{}
			}
			resolved[field] = ref.Clone().Fields
		}
		if resolved != nil {
			recs[i].Fields["expand"] = resolved
		}
	}
}

func sortRecords(recs []Record, opts FindOptions) {
	field := opts.Sort
	sort.SliceStable(recs, func(i, j int) bool {
		less := recordLess(recs[i], recs[j], field)
		if opts.Desc {
			return recordLess(recs[j], recs[i], field)
		}
		return less
	})
}

func recordLess(a, b Record, field string) bool {
	switch field {
	case "", "created":
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.ID < b.ID
	case "updated":
		if !a.Updated.Equal(b.Updated) {
			return a.Updated.Before(b.Updated)
		}
		return a.ID < b.ID
	}
	av, _ := a.Get(field)
	bv, _ := b.Get(field)
	if af, ok := asFloat(av); ok {
		if bf, ok := asFloat(bv); ok {
			if af != bf {
				return af < bf
			}
			return a.ID < b.ID
		}
	}
	at, bt := a.GetTime(field), b.GetTime(field)
	if !at.IsZero() || !bt.IsZero() {
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.ID < b.ID
	}
	as, _ := av.(string)
	bs, _ := bv.(string)
	if as != bs {
		return as < bs
	}
	return a.ID < b.ID
}
