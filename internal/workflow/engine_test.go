package workflow

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"agendaflow/internal/store"
)

// newTestEngine builds an engine over a fresh in-memory store with the
// production routing.
func newTestEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	e := New(m, Config{
		Logger:                 zap.NewNop(),
		DisallowedRequestRoles: []string{RoleConvidado},
	})
	return e, m
}

// faultStore wraps a store and lets tests fail individual writes to drive
// degradation paths.
type faultStore struct {
	store.Store
	createHook func(collection string, fields map[string]any) error
	updateHook func(collection, id string, fields map[string]any) error
}

func (f *faultStore) Create(ctx context.Context, collection string, fields map[string]any) (store.Record, error) {
	if f.createHook != nil {
		if err := f.createHook(collection, fields); err != nil {
			return store.Record{}, err
		}
	}
	return f.Store.Create(ctx, collection, fields)
}

func (f *faultStore) Update(ctx context.Context, collection, id string, fields map[string]any) (store.Record, error) {
	if f.updateHook != nil {
		if err := f.updateHook(collection, id, fields); err != nil {
			return store.Record{}, err
		}
	}
	return f.Store.Update(ctx, collection, id, fields)
}

func seedUser(t *testing.T, m store.Store, name, role string) string {
	t.Helper()
	rec, err := m.Create(context.Background(), ColUsers, map[string]any{"name": name, "role": role})
	if err != nil {
		t.Fatal(err)
	}
	return rec.ID
}

func seedItem(t *testing.T, m store.Store, name, category string) string {
	t.Helper()
	rec, err := m.Create(context.Background(), ColItems, map[string]any{"name": name, "category": category})
	if err != nil {
		t.Fatal(err)
	}
	return rec.ID
}

func seedEvent(t *testing.T, m store.Store, organizer, title string) string {
	t.Helper()
	rec, err := m.Create(context.Background(), ColEvents, map[string]any{
		"organizer":          organizer,
		"title":              title,
		"participants":       []any{},
		"participantsStatus": map[string]any{},
		"participantsRole":   map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec.ID
}

func inboxOf(t *testing.T, e *Engine, userID string) []Notification {
	t.Helper()
	notifs, err := e.Notifications.Inbox(context.Background(), Actor{ID: userID}, false)
	if err != nil {
		t.Fatal(err)
	}
	return notifs
}

func noDegradations(t *testing.T, degs []Degradation) {
	t.Helper()
	if len(degs) != 0 {
		t.Fatalf("unexpected degradations: %+v", degs)
	}
}
