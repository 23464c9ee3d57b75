// Package pg implements the collection store on Postgres. Every record is a
// row in a single documents table with a jsonb fields column; filters are
// compiled to SQL instead of being applied in memory. Change notifications
// are process-local: they fire for writes that went through this Store, not
// for rows touched by other processes.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"agendaflow/internal/ids"
	"agendaflow/internal/store"
)

type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	subs    map[string]map[int]chan store.Change
	nextSub int
}

var _ store.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing handle. Used by tests with sqlmock.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, subs: make(map[string]map[int]chan store.Change)}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Find(ctx context.Context, collection string, filter store.Filter, opts store.FindOptions) ([]store.Record, error) {
	b := &builder{}
	col := b.arg(collection)
	where, err := b.compile(filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`select id, created, updated, fields from documents where collection = %s and %s order by %s, id asc`,
		col, where, orderClause(opts),
	)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" limit %s", b.arg(opts.Limit))
	}

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows, collection)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(opts.Expand) > 0 {
		if err := s.expand(ctx, out, opts.Expand); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, collection, id string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select created, updated, fields from documents where collection = $1 and id = $2`,
		collection, id)

	var rec store.Record
	var raw []byte
	err := row.Scan(&rec.Created, &rec.Updated, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	rec.ID = id
	rec.Collection = collection
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return store.Record{}, fmt.Errorf("decode fields of %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (store.Record, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode fields: %w", err)
	}

	rec := store.Record{
		ID:         ids.New(),
		Collection: collection,
		Created:    time.Now().UTC(),
		Fields:     fields,
	}
	rec.Updated = rec.Created

	_, err = s.db.ExecContext(ctx,
		`insert into documents(collection, id, created, updated, fields) values ($1, $2, $3, $4, $5)`,
		collection, rec.ID, rec.Created, rec.Updated, raw)
	if err != nil {
		return store.Record{}, err
	}

	s.publish(collection, store.Change{Action: store.ActionCreate, Record: rec.Clone()})
	return rec, nil
}

// Update merges the given fields into the stored document under a row lock,
// matching the merge semantics of the in-memory store.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) (store.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var rec store.Record
	var raw []byte
	err = tx.QueryRowContext(ctx,
		`select created, fields from documents where collection = $1 and id = $2 for update`,
		collection, id).Scan(&rec.Created, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return store.Record{}, fmt.Errorf("decode fields of %s/%s: %w", collection, id, err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}

	merged, err := json.Marshal(rec.Fields)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode fields: %w", err)
	}
	rec.ID = id
	rec.Collection = collection
	rec.Updated = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`update documents set updated = $3, fields = $4 where collection = $1 and id = $2`,
		collection, id, rec.Updated, merged); err != nil {
		return store.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.Record{}, err
	}

	s.publish(collection, store.Change{Action: store.ActionUpdate, Record: rec.Clone()})
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	var rec store.Record
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`delete from documents where collection = $1 and id = $2 returning created, updated, fields`,
		collection, id).Scan(&rec.Created, &rec.Updated, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	rec.ID = id
	rec.Collection = collection
	if err := json.Unmarshal(raw, &rec.Fields); err == nil {
		s.publish(collection, store.Change{Action: store.ActionDelete, Record: rec})
	}
	return nil
}

// Subscribe registers a change channel for one collection. The channel is
// closed when ctx ends.
func (s *Store) Subscribe(ctx context.Context, collection string) <-chan store.Change {
	ch := make(chan store.Change, 16)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[int]chan store.Change)
	}
	s.subs[collection][id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[collection], id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Store) publish(collection string, c store.Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs[collection] {
		select {
		case ch <- c:
		default:
			// Drop when the subscriber is slow to avoid blocking writers.
		}
	}
}

func (s *Store) expand(ctx context.Context, recs []store.Record, expand map[string]string) error {
	for i := range recs {
		var resolved map[string]any
		for field, target := range expand {
			refID := recs[i].GetString(field)
			if refID == "" {
				continue
			}
			ref, err := s.FindOne(ctx, target, refID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if resolved == nil {
				resolved = map[string]any{}
			}
			resolved[field] = ref.Fields
		}
		if resolved != nil {
			recs[i].Fields["expand"] = resolved
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, collection string) (store.Record, error) {
	var rec store.Record
	var raw []byte
	if err := row.Scan(&rec.ID, &rec.Created, &rec.Updated, &raw); err != nil {
		return store.Record{}, err
	}
	rec.Collection = collection
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return store.Record{}, fmt.Errorf("decode fields of %s/%s: %w", collection, rec.ID, err)
	}
	return rec, nil
}
