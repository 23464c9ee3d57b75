// Command smoke-workflow runs the request lifecycles end to end against the
// in-memory store and fails loudly on any broken invariant. Useful as a
// pre-deploy sanity check that needs no database.
package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.uber.org/zap"

	"agendaflow/internal/store"
	"agendaflow/internal/workflow"
)

func main() {
	ctx := context.Background()
	mem := store.NewMemory()
	engine := workflow.New(mem, workflow.Config{
		Logger:                 zap.NewNop(),
		DisallowedRequestRoles: []string{workflow.RoleConvidado},
	})

	organizer := seedUser(ctx, mem, "Organizador", workflow.RoleServidor)
	almc := seedUser(ctx, mem, "Almoxarife", workflow.RoleALMC)
	seedUser(ctx, mem, "Admin", workflow.RoleAdmin)
	requester := seedUser(ctx, mem, "Solicitante", workflow.RoleServidor)

	org := workflow.Actor{ID: organizer, Name: "Organizador"}
	almcActor := workflow.Actor{ID: almc, Name: "Almoxarife", Roles: []string{workflow.RoleALMC}}

	event, err := engine.CreateEvent(ctx, org, workflow.EventDraft{Title: "Semana de Extensão"})
	if err != nil {
		log.Fatalf("create event: %v", err)
	}

	item, err := mem.Create(ctx, workflow.ColItems, map[string]any{
		"name": "Cadeira", "category": "MOBILIARIO",
	})
	if err != nil {
		log.Fatalf("seed item: %v", err)
	}

	// Resource request reaches the responsible role with the quantity.
	req, degs, err := engine.Resources.Create(ctx, org, event.ID, item.ID, 5, "palestra")
	if err != nil || len(degs) != 0 {
		log.Fatalf("resource create: err=%v degs=%v", err, degs)
	}
	inbox := mustInbox(ctx, engine, workflow.Actor{ID: almc})
	if len(inbox) != 1 || inbox[0].Data["quantity"] != 5 {
		log.Fatalf("responsible not notified with quantity: %+v", inbox)
	}

	// Rejection carries the justification to the requester.
	if _, _, err := engine.Resources.Decide(ctx, almcActor, req.ID, false, "sem estoque"); err != nil {
		log.Fatalf("resource reject: %v", err)
	}
	inbox = mustInbox(ctx, engine, org)
	if len(inbox) != 1 || !strings.Contains(inbox[0].Message, "sem estoque") {
		log.Fatalf("rejection justification lost: %+v", inbox)
	}

	// Re-request reopens the cycle with the new quantity.
	reopened, _, err := engine.Resources.ReRequest(ctx, org, req.ID, 3, "reduzimos")
	if err != nil {
		log.Fatalf("re-request: %v", err)
	}
	if reopened.Status != workflow.StatusPending || reopened.Quantity != 3 {
		log.Fatalf("re-request state wrong: %+v", reopened)
	}

	// Participation: request, approve with elevated role, reconciled view.
	pReq, _, err := engine.Participation.RequestParticipation(ctx,
		workflow.Actor{ID: requester, Name: "Solicitante"}, event.ID, "quero ajudar")
	if err != nil {
		log.Fatalf("participation request: %v", err)
	}
	decided, _, err := engine.Participation.DecideRequest(ctx, org, pReq.ID, true, workflow.RoleOrganizador)
	if err != nil {
		log.Fatalf("participation decide: %v", err)
	}
	if decided.Status != workflow.StatusApproved || decided.Role != workflow.RoleOrganizador {
		log.Fatalf("decision state wrong: %+v", decided)
	}
	view, err := engine.EventView(ctx, event.ID)
	if err != nil {
		log.Fatalf("event view: %v", err)
	}
	if view.ParticipantStatus[requester] != workflow.ParticipantAccepted {
		log.Fatalf("reconciled status wrong: %v", view.ParticipantStatus)
	}
	approvals := mustInbox(ctx, engine, workflow.Actor{ID: requester})
	var echoed bool
	for _, n := range approvals {
		if n.Type == workflow.TypeParticipationApproved && n.Data["message"] == "quero ajudar" {
			echoed = true
		}
	}
	if !echoed {
		log.Fatalf("approval did not echo the original message: %+v", approvals)
	}

	// Transport mirrors the same lifecycle on the event record.
	tView, _, err := engine.Transport.Request(ctx, org, event.ID, workflow.TransportDetails{
		Origin: "Campus Central", Destination: "Campus Norte", Passengers: 12,
	})
	if err != nil {
		log.Fatalf("transport request: %v", err)
	}
	if !tView.Requested || tView.Status != workflow.StatusPending {
		log.Fatalf("transport state wrong: %+v", tView)
	}
	if _, _, err := engine.Transport.Decide(ctx, almcActor, event.ID, true, ""); err != nil {
		log.Fatalf("transport approve: %v", err)
	}

	fmt.Println("workflow smoke test passed:", event.ID)
}

func seedUser(ctx context.Context, m *store.Memory, name, role string) string {
	rec, err := m.Create(ctx, workflow.ColUsers, map[string]any{
		"name": name,
		"role": role,
	})
	if err != nil {
		log.Fatalf("seed user %s: %v", name, err)
	}
	return rec.ID
}

func mustInbox(ctx context.Context, e *workflow.Engine, actor workflow.Actor) []workflow.Notification {
	items, err := e.Notifications.Inbox(ctx, actor, false)
	if err != nil {
		log.Fatalf("inbox of %s: %v", actor.ID, err)
	}
	return items
}
