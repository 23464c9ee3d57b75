package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"agendaflow/internal/store"
)

// Scenario: "Cadeira" requested qty 5 → every responsible-role user gets one
// notification with the quantity in the payload.
func TestCreateNotifiesResponsibleRole(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	organizer := seedUser(t, m, "Maria", RoleServidor)
	almc1 := seedUser(t, m, "Almox 1", RoleALMC)
	almc2 := seedUser(t, m, "Almox 2", RoleALMC)
	admin := seedUser(t, m, "Admin", RoleAdmin)
	dca := seedUser(t, m, "Técnico", RoleDCA)
	eventID := seedEvent(t, m, organizer, "Evento X")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")

	req, degs, err := e.Resources.Create(ctx, Actor{ID: organizer, Name: "Maria"}, eventID, item, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	noDegradations(t, degs)
	if req.Status != StatusPending || req.Quantity != 5 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.History) != 1 || req.History[0].Action != ActionCreated {
		t.Fatalf("expected single created history entry: %+v", req.History)
	}

	for _, recipient := range []string{almc1, almc2, admin} {
		inbox := inboxOf(t, e, recipient)
		if len(inbox) != 1 {
			t.Fatalf("recipient %s expected 1 notification, got %d", recipient, len(inbox))
		}
		n := inbox[0]
		if n.Type != TypeResourceRequest {
			t.Fatalf("unexpected type %s", n.Type)
		}
		if q, _ := n.Data["quantity"].(int); q != 5 {
			t.Fatalf("data.quantity = %v, want 5", n.Data["quantity"])
		}
	}
	if len(inboxOf(t, e, dca)) != 0 {
		t.Fatal("non-responsible role must not be notified for a non-informatics item")
	}
}

func TestCreateRoutesInformaticsToDCA(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	organizer := seedUser(t, m, "Maria", RoleServidor)
	almc := seedUser(t, m, "Almox", RoleALMC)
	dca := seedUser(t, m, "Técnico", RoleDCA)
	eventID := seedEvent(t, m, organizer, "Evento")
	item := seedItem(t, m, "Projetor", "INFORMATICA")

	_, degs, err := e.Resources.Create(ctx, Actor{ID: organizer, Name: "Maria"}, eventID, item, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	noDegradations(t, degs)
	if len(inboxOf(t, e, dca)) != 1 {
		t.Fatal("informatics items must route to DCA")
	}
	if len(inboxOf(t, e, almc)) != 0 {
		t.Fatal("ALMC must not receive informatics requests")
	}
}

// Edge policy: zero responsible users is degraded-but-non-fatal.
func TestCreateWithZeroRespondersPersistsSilently(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	organizer := seedUser(t, m, "Maria", RoleServidor)
	eventID := seedEvent(t, m, organizer, "Evento")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")

	req, degs, err := e.Resources.Create(ctx, Actor{ID: organizer, Name: "Maria"}, eventID, item, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	noDegradations(t, degs)
	if req == nil || req.Status != StatusPending {
		t.Fatalf("request must persist without responders: %+v", req)
	}
	notifs, _ := m.Find(ctx, ColNotifications, nil, store.FindOptions{})
	if len(notifs) != 0 {
		t.Fatalf("expected zero notifications, got %d", len(notifs))
	}
}

// Scenario: rejection with "sem estoque" reaches the requester verbatim.
func TestDecideRejectEmbedsJustification(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	requester := seedUser(t, m, "Maria", RoleServidor)
	responsible := seedUser(t, m, "Almox", RoleALMC)
	eventID := seedEvent(t, m, requester, "Evento")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")

	req, _, err := e.Resources.Create(ctx, Actor{ID: requester, Name: "Maria"}, eventID, item, 5, "")
	if err != nil {
		t.Fatal(err)
	}

	decided, degs, err := e.Resources.Decide(ctx, Actor{ID: responsible, Name: "Almox", Roles: []string{RoleALMC}}, req.ID, false, "sem estoque")
	if err != nil {
		t.Fatal(err)
	}
	noDegradations(t, degs)
	if decided.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", decided.Status)
	}

	inbox := inboxOf(t, e, requester)
	if len(inbox) != 1 {
		t.Fatalf("requester expected 1 notification, got %d", len(inbox))
	}
	if !strings.Contains(inbox[0].Message, "sem estoque") {
		t.Fatalf("message must carry the justification: %q", inbox[0].Message)
	}
	if inbox[0].Data["justification"] != "sem estoque" {
		t.Fatalf("justification must also ride in data: %v", inbox[0].Data)
	}
}

func TestDecideRestrictedToResponsibleRole(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	requester := seedUser(t, m, "Maria", RoleServidor)
	eventID := seedEvent(t, m, requester, "Evento")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")
	req, _, _ := e.Resources.Create(ctx, Actor{ID: requester, Name: "Maria"}, eventID, item, 1, "")

	// Wrong role.
	if _, _, err := e.Resources.Decide(ctx, Actor{ID: "x", Roles: []string{RoleDCA}}, req.ID, true, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Admin always qualifies.
	if _, _, err := e.Resources.Decide(ctx, Actor{ID: "a", Name: "Admin", Roles: []string{RoleAdmin}}, req.ID, true, ""); err != nil {
		t.Fatal(err)
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	requester := seedUser(t, m, "Maria", RoleServidor)
	seedUser(t, m, "Almox", RoleALMC)
	eventID := seedEvent(t, m, requester, "Evento")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")
	req, _, _ := e.Resources.Create(ctx, Actor{ID: requester, Name: "Maria"}, eventID, item, 1, "")

	almc := Actor{ID: "resp", Name: "Almox", Roles: []string{RoleALMC}}
	first, _, err := e.Resources.Decide(ctx, almc, req.ID, false, "sem estoque")
	if err != nil {
		t.Fatal(err)
	}
	second, degs, err := e.Resources.Decide(ctx, almc, req.ID, false, "sem estoque")
	if err != nil {
		t.Fatal(err)
	}
	noDegradations(t, degs)
	if len(second.History) != len(first.History) {
		t.Fatal("repeated decision must not append history")
	}
	// No duplicate rejection notification either.
	inbox := inboxOf(t, e, requester)
	if len(inbox) != 1 {
		t.Fatalf("expected 1 notification after retry, got %d", len(inbox))
	}
}

// Scenario: re-request with qty 3 resets to pending and appends exactly one
// re_requested entry. The cycle can repeat indefinitely.
func TestReRequestCycle(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	requester := seedUser(t, m, "Maria", RoleServidor)
	seedUser(t, m, "Almox", RoleALMC)
	eventID := seedEvent(t, m, requester, "Evento X")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")

	req, _, err := e.Resources.Create(ctx, Actor{ID: requester, Name: "Maria"}, eventID, item, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	almc := Actor{ID: "resp", Name: "Almox", Roles: []string{RoleALMC}}
	maria := Actor{ID: requester, Name: "Maria"}

	for cycle := 0; cycle < 3; cycle++ {
		rejected, _, err := e.Resources.Decide(ctx, almc, req.ID, false, "sem estoque")
		if err != nil {
			t.Fatal(err)
		}
		lenBefore := len(rejected.History)

		reopened, degs, err := e.Resources.ReRequest(ctx, maria, req.ID, 3, "quantidade menor")
		if err != nil {
			t.Fatal(err)
		}
		noDegradations(t, degs)
		if reopened.Status != StatusPending {
			t.Fatalf("cycle %d: status = %s, want pending", cycle, reopened.Status)
		}
		if reopened.Quantity != 3 {
			t.Fatalf("cycle %d: quantity = %d, want 3", cycle, reopened.Quantity)
		}
		if len(reopened.History) != lenBefore+1 {
			t.Fatalf("cycle %d: history grew by %d, want 1", cycle, len(reopened.History)-lenBefore)
		}
		last := reopened.History[len(reopened.History)-1]
		if last.Action != ActionReRequested || last.Quantity == nil || *last.Quantity != 3 {
			t.Fatalf("cycle %d: unexpected last entry: %+v", cycle, last)
		}
	}
}

func TestReRequestOnlyFromRejected(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	requester := seedUser(t, m, "Maria", RoleServidor)
	eventID := seedEvent(t, m, requester, "Evento")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")
	req, _, _ := e.Resources.Create(ctx, Actor{ID: requester, Name: "Maria"}, eventID, item, 1, "")

	if _, _, err := e.Resources.ReRequest(ctx, Actor{ID: requester, Name: "Maria"}, req.ID, 2, "obs"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict from pending, got %v", err)
	}
}

func TestReRequestFlagsTriggeringNotification(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	requester := seedUser(t, m, "Maria", RoleServidor)
	seedUser(t, m, "Almox", RoleALMC)
	eventID := seedEvent(t, m, requester, "Evento")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")
	req, _, _ := e.Resources.Create(ctx, Actor{ID: requester, Name: "Maria"}, eventID, item, 5, "")

	almc := Actor{ID: "resp", Name: "Almox", Roles: []string{RoleALMC}}
	if _, _, err := e.Resources.Decide(ctx, almc, req.ID, false, "sem estoque"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Resources.ReRequest(ctx, Actor{ID: requester, Name: "Maria"}, req.ID, 3, "obs"); err != nil {
		t.Fatal(err)
	}

	inbox := inboxOf(t, e, requester)
	var rejection *Notification
	for i := range inbox {
		if inbox[i].Type == TypeResourceRejected {
			rejection = &inbox[i]
		}
	}
	if rejection == nil {
		t.Fatal("rejection notification missing")
	}
	if rejection.Data["re_requested"] != true {
		t.Fatalf("rejection must carry the advisory re_requested flag: %v", rejection.Data)
	}
}

// The authoritative write failing must surface StoreUnavailable and leave
// no side effects; a failing secondary write must not fail the operation.
func TestAuthoritativeVersusSecondaryFailure(t *testing.T) {
	mem := store.NewMemory()
	faulty := &faultStore{Store: mem}
	e := New(faulty, Config{Logger: zap.NewNop()})
	ctx := context.Background()

	requester := seedUser(t, mem, "Maria", RoleServidor)
	seedUser(t, mem, "Almox", RoleALMC)
	eventID := seedEvent(t, mem, requester, "Evento")
	item := seedItem(t, mem, "Cadeira", "MOBILIARIO")

	// Authoritative create fails: surfaced, nothing persisted.
	faulty.createHook = func(collection string, fields map[string]any) error {
		if collection == ColResourceRequests {
			return errors.New("network down")
		}
		return nil
	}
	_, _, err := e.Resources.Create(ctx, Actor{ID: requester, Name: "Maria"}, eventID, item, 1, "")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if recs, _ := mem.Find(ctx, ColResourceRequests, nil, store.FindOptions{}); len(recs) != 0 {
		t.Fatal("failed authoritative write must leave state unchanged")
	}

	// Secondary notification create fails: operation succeeds, degraded.
	faulty.createHook = func(collection string, fields map[string]any) error {
		if collection == ColNotifications {
			return errors.New("permission quirk")
		}
		return nil
	}
	req, degs, err := e.Resources.Create(ctx, Actor{ID: requester, Name: "Maria"}, eventID, item, 1, "")
	if err != nil {
		t.Fatalf("secondary failure must not surface: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("authoritative state must have changed: %+v", req)
	}
	if len(degs) == 0 {
		t.Fatal("expected typed degradations for the swallowed failure")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()
	requester := seedUser(t, m, "Maria", RoleServidor)
	eventID := seedEvent(t, m, requester, "Evento")
	item := seedItem(t, m, "Cadeira", "MOBILIARIO")

	if _, _, err := e.Resources.Create(ctx, Actor{ID: requester}, eventID, item, 0, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for zero quantity, got %v", err)
	}
	if _, _, err := e.Resources.Create(ctx, Actor{ID: requester}, "missing", item, 1, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing event, got %v", err)
	}
	if _, _, err := e.Resources.Create(ctx, Actor{ID: requester}, eventID, "missing", 1, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing item, got %v", err)
	}
}
