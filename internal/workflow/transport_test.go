package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func transportDetails(passengers int) TransportDetails {
	return TransportDetails{
		Origin:        "Campus Central",
		Destination:   "Campus Norte",
		Departure:     time.Date(2026, 9, 10, 7, 30, 0, 0, time.UTC),
		Return:        time.Date(2026, 9, 10, 18, 0, 0, 0, time.UTC),
		Passengers:    passengers,
		Justification: "visita técnica",
	}
}

func TestTransportRequestNotifiesDefaultRole(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	organizer := seedUser(t, m, "Org", RoleServidor)
	almoxarife := seedUser(t, m, "Almox", RoleALMC)
	admin := seedUser(t, m, "Admin", RoleAdmin)
	eventID := seedEvent(t, m, organizer, "Visita Técnica")

	view, degs, err := e.Transport.Request(ctx, Actor{ID: organizer, Name: "Org"}, eventID, transportDetails(12))
	if err != nil {
		t.Fatal(err)
	}
	noDegradations(t, degs)
	if !view.Requested || view.Status != StatusPending || view.Passengers != 12 {
		t.Fatalf("unexpected view: %+v", view)
	}

	for _, recipient := range []string{almoxarife, admin} {
		inbox := inboxOf(t, e, recipient)
		if len(inbox) != 1 {
			t.Fatalf("recipient %s expected 1 notification, got %d", recipient, len(inbox))
		}
		if inbox[0].Data["passengers"] != 12 {
			t.Fatalf("payload must carry the passenger count: %v", inbox[0].Data)
		}
	}
}

func TestTransportRequestGuards(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	organizer := seedUser(t, m, "Org", RoleServidor)
	other := seedUser(t, m, "Outro", RoleServidor)
	eventID := seedEvent(t, m, organizer, "Evento")

	if _, _, err := e.Transport.Request(ctx, Actor{ID: other, Name: "Outro"}, eventID, transportDetails(3)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-organizer: expected ErrForbidden, got %v", err)
	}
	if _, _, err := e.Transport.Request(ctx, Actor{ID: organizer, Name: "Org"}, eventID, transportDetails(0)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("zero passengers: expected ErrInvalid, got %v", err)
	}

	if _, _, err := e.Transport.Request(ctx, Actor{ID: organizer, Name: "Org"}, eventID, transportDetails(3)); err != nil {
		t.Fatal(err)
	}
	// An event holds at most one transport request.
	if _, _, err := e.Transport.Request(ctx, Actor{ID: organizer, Name: "Org"}, eventID, transportDetails(5)); !errors.Is(err, ErrConflict) {
		t.Fatalf("second request: expected ErrConflict, got %v", err)
	}
}

func TestTransportDecideRejectEmbedsJustification(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	organizer := seedUser(t, m, "Org", RoleServidor)
	seedUser(t, m, "Almox", RoleALMC)
	eventID := seedEvent(t, m, organizer, "Visita")

	if _, _, err := e.Transport.Request(ctx, Actor{ID: organizer, Name: "Org"}, eventID, transportDetails(8)); err != nil {
		t.Fatal(err)
	}

	almc := Actor{ID: "almc-actor", Name: "Almox", Roles: []string{RoleALMC}}
	view, _, err := e.Transport.Decide(ctx, almc, eventID, false, "sem veículo disponível")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", view.Status)
	}

	inbox := inboxOf(t, e, organizer)
	var rejection *Notification
	for i := range inbox {
		if inbox[i].Type == TypeTransportRejected {
			rejection = &inbox[i]
		}
	}
	if rejection == nil {
		t.Fatal("requester did not receive the rejection")
	}
	if !strings.Contains(rejection.Message, "sem veículo disponível") {
		t.Fatalf("justification missing from message: %q", rejection.Message)
	}
	if rejection.Data["justification"] != "sem veículo disponível" {
		t.Fatalf("justification missing from payload: %v", rejection.Data)
	}
}

func TestTransportDecideRestrictedAndIdempotent(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	organizer := seedUser(t, m, "Org", RoleServidor)
	eventID := seedEvent(t, m, organizer, "Visita")
	if _, _, err := e.Transport.Request(ctx, Actor{ID: organizer, Name: "Org"}, eventID, transportDetails(8)); err != nil {
		t.Fatal(err)
	}

	if _, _, err := e.Transport.Decide(ctx, Actor{ID: organizer, Name: "Org"}, eventID, true, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("organizer without role: expected ErrForbidden, got %v", err)
	}

	admin := Actor{ID: "admin-actor", Name: "Admin", Roles: []string{RoleAdmin}}
	if _, _, err := e.Transport.Decide(ctx, admin, eventID, true, ""); err != nil {
		t.Fatalf("admin override failed: %v", err)
	}
	// Retrying the same outcome must not grow history or re-notify.
	if _, _, err := e.Transport.Decide(ctx, admin, eventID, true, ""); err != nil {
		t.Fatal(err)
	}

	rec, _ := m.FindOne(ctx, ColEvents, eventID)
	history := DecodeHistory(rec, "transportHistory")
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (created + approved)", len(history))
	}
	var approvals int
	for _, n := range inboxOf(t, e, organizer) {
		if n.Type == TypeTransportApproved {
			approvals++
		}
	}
	if approvals != 1 {
		t.Fatalf("approval notifications = %d, want 1", approvals)
	}
}

func TestTransportDecideWithoutRequest(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()
	organizer := seedUser(t, m, "Org", RoleServidor)
	eventID := seedEvent(t, m, organizer, "Evento")

	admin := Actor{ID: "admin-actor", Roles: []string{RoleAdmin}}
	if _, _, err := e.Transport.Decide(ctx, admin, eventID, true, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransportReRequestCycle(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	organizer := seedUser(t, m, "Org", RoleServidor)
	seedUser(t, m, "Almox", RoleALMC)
	eventID := seedEvent(t, m, organizer, "Visita")
	org := Actor{ID: organizer, Name: "Org"}
	almc := Actor{ID: "almc-actor", Name: "Almox", Roles: []string{RoleALMC}}

	if _, _, err := e.Transport.Request(ctx, org, eventID, transportDetails(8)); err != nil {
		t.Fatal(err)
	}

	// Re-request is only allowed from rejected.
	if _, _, err := e.Transport.ReRequest(ctx, org, eventID, 6, "menos gente"); !errors.Is(err, ErrConflict) {
		t.Fatalf("pending re-request: expected ErrConflict, got %v", err)
	}

	if _, _, err := e.Transport.Decide(ctx, almc, eventID, false, "sem veículo"); err != nil {
		t.Fatal(err)
	}

	// Only the requester (or an admin) may reopen.
	stranger := Actor{ID: "someone-else", Name: "X"}
	if _, _, err := e.Transport.ReRequest(ctx, stranger, eventID, 6, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger re-request: expected ErrForbidden, got %v", err)
	}

	view, degs, err := e.Transport.ReRequest(ctx, org, eventID, 6, "reduzimos para 6 passageiros")
	if err != nil {
		t.Fatal(err)
	}
	noDegradations(t, degs)
	if view.Status != StatusPending || view.Passengers != 6 {
		t.Fatalf("unexpected view after re-request: %+v", view)
	}

	rec, _ := m.FindOne(ctx, ColEvents, eventID)
	history := DecodeHistory(rec, "transportHistory")
	last := history[len(history)-1]
	if last.Action != ActionReRequested || last.Quantity == nil || *last.Quantity != 6 {
		t.Fatalf("unexpected last history entry: %+v", last)
	}

	// The rejection notification carries the advisory flag.
	var rejection *Notification
	for _, n := range inboxOf(t, e, organizer) {
		if n.Type == TypeTransportRejected {
			rejection = &n
		}
	}
	if rejection == nil || rejection.Data["re_requested"] != true {
		t.Fatalf("rejection not flagged: %+v", rejection)
	}
}
