package workflow

import (
	"context"
	"fmt"

	"agendaflow/internal/audit"
	"agendaflow/internal/obs"
)

// Resources is the lifecycle of item requests tied to an event:
// pending -> approved | rejected, with rejected re-openable indefinitely.
type Resources struct {
	core       core
	dispatcher *Dispatcher
	routing    RoleRouting
}

// Create inserts a pending request with its initial history entry and
// notifies every user holding the responsible role for the item's category.
// Zero responsible users is degraded-but-non-fatal: the request persists,
// nobody is notified.
func (r *Resources) Create(ctx context.Context, actor Actor, eventID, itemID string, quantity int, justification string) (*ResourceRequest, []Degradation, error) {
	if quantity <= 0 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	}
	eventRec, err := r.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	event := decodeEvent(eventRec)
	itemRec, err := r.core.store.FindOne(ctx, ColItems, itemID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	itemName := itemRec.GetString("name")
	category := itemRec.GetString("category")

	qty := quantity
	history := appendRaw(nil, HistoryEntry{
		Timestamp: r.core.now().UTC(),
		Action:    ActionCreated,
		Actor:     actor.ID,
		ActorName: actor.Name,
		Message:   justification,
		Quantity:  &qty,
	})
	created, err := r.core.store.Create(ctx, ColResourceRequests, map[string]any{
		"event":         eventID,
		"item":          itemID,
		"requester":     actor.ID,
		"quantity":      quantity,
		"status":        string(StatusPending),
		"justification": nilIfEmpty(justification),
		"history":       history,
	})
	if err != nil {
		obs.ObserveTransition("resource", "create", "error")
		return nil, nil, authoritative(err)
	}
	obs.ObserveTransition("resource", "create", "ok")
	audit.LogTransition(ctx, "resource.create", actor.ID, created.ID, map[string]any{
		"event": eventID, "item": itemID, "quantity": quantity,
	})

	var degs []Degradation
	r.notifyResponsible(ctx, &degs, category, Draft{
		Title:          "Nova solicitação de material",
		Message:        fmt.Sprintf("%s solicitou %d × %s para o evento %q.", actor.Name, quantity, itemName, event.Title),
		Type:           TypeResourceRequest,
		EventID:        eventID,
		RelatedRequest: created.ID,
		Data: map[string]any{
			"quantity":      quantity,
			"item":          itemID,
			"item_name":     itemName,
			"requester_id":  actor.ID,
			"justification": justification,
		},
	})

	request := decodeResourceRequest(created)
	return &request, degs, nil
}

// Decide approves or rejects a pending request. Restricted to the role
// responsible for the item's category (administrators always qualify).
// The status update with its history entry is the single authoritative
// write; the requester's notification is best-effort. Repeating a decision
// with the same outcome is a no-op.
func (r *Resources) Decide(ctx context.Context, actor Actor, requestID string, approve bool, justification string) (*ResourceRequest, []Degradation, error) {
	reqRec, err := r.core.store.FindOne(ctx, ColResourceRequests, requestID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	request := decodeResourceRequest(reqRec)

	category := ""
	itemName := request.ItemID
	if itemRec, err := r.core.store.FindOne(ctx, ColItems, request.ItemID); err == nil {
		category = itemRec.GetString("category")
		itemName = itemRec.GetString("name")
	}
	responsible := r.routing.RoleFor(category)
	if !actor.HasRole(responsible) && !actor.IsAdmin() {
		return nil, nil, fmt.Errorf("%w: decision restricted to role %s", ErrForbidden, responsible)
	}

	target := StatusApproved
	action := ActionApproved
	if !approve {
		target = StatusRejected
		action = ActionRejected
	}
	if request.Status == target {
		return &request, nil, nil // safe retry
	}

	fields := map[string]any{
		"status": string(target),
		"history": AppendHistory(reqRec, "history", HistoryEntry{
			Timestamp: r.core.now().UTC(),
			Action:    action,
			Actor:     actor.ID,
			ActorName: actor.Name,
			Message:   justification,
		}),
	}
	updated, err := r.core.store.Update(ctx, ColResourceRequests, requestID, fields)
	if err != nil {
		obs.ObserveTransition("resource", string(action), "error")
		return nil, nil, authoritative(err)
	}
	obs.ObserveTransition("resource", string(action), "ok")
	audit.LogTransition(ctx, "resource."+string(action), actor.ID, requestID, map[string]any{
		"event": request.EventID, "item": request.ItemID,
	})

	var degs []Degradation
	recipient := request.Requester
	if approve {
		_, dDegs := r.dispatcher.Dispatch(ctx, []string{recipient}, Draft{
			Title:          "Solicitação de material aprovada",
			Message:        fmt.Sprintf("Sua solicitação de %d × %s foi aprovada.", request.Quantity, itemName),
			Type:           TypeResourceApproved,
			EventID:        request.EventID,
			RelatedRequest: requestID,
			InviteStatus:   string(StatusApproved),
			Data:           map[string]any{"item_name": itemName, "quantity": request.Quantity},
		})
		degs = append(degs, dDegs...)
	} else {
		// The justification rides in data as well so it survives later
		// edits of the notification record.
		msg := fmt.Sprintf("Sua solicitação de %d × %s foi recusada.", request.Quantity, itemName)
		if justification != "" {
			msg = fmt.Sprintf("Sua solicitação de %d × %s foi recusada: %s", request.Quantity, itemName, justification)
		}
		_, dDegs := r.dispatcher.Dispatch(ctx, []string{recipient}, Draft{
			Title:          "Solicitação de material recusada",
			Message:        msg,
			Type:           TypeResourceRejected,
			EventID:        request.EventID,
			RelatedRequest: requestID,
			InviteStatus:   string(StatusRejected),
			Data: map[string]any{
				"item_name":     itemName,
				"quantity":      request.Quantity,
				"justification": justification,
			},
		})
		degs = append(degs, dDegs...)
	}

	result := decodeResourceRequest(updated)
	return &result, degs, nil
}

// ReRequest reopens a rejected request: status back to pending, quantity
// and justification overwritten, one re_requested history entry, the
// responsible role re-notified. Only valid from rejected, and only for the
// original requester. Not idempotent: every call appends history and may
// notify again, so the UI debounces.
func (r *Resources) ReRequest(ctx context.Context, actor Actor, requestID string, quantity int, observation string) (*ResourceRequest, []Degradation, error) {
	if quantity <= 0 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	}
	reqRec, err := r.core.store.FindOne(ctx, ColResourceRequests, requestID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	request := decodeResourceRequest(reqRec)
	if request.Status != StatusRejected {
		return nil, nil, fmt.Errorf("%w: only rejected requests can be re-requested", ErrConflict)
	}
	if actor.ID != request.Requester && !actor.IsAdmin() {
		return nil, nil, ErrForbidden
	}

	qty := quantity
	updated, err := r.core.store.Update(ctx, ColResourceRequests, requestID, map[string]any{
		"status":        string(StatusPending),
		"quantity":      quantity,
		"justification": nilIfEmpty(observation),
		"history": AppendHistory(reqRec, "history", HistoryEntry{
			Timestamp: r.core.now().UTC(),
			Action:    ActionReRequested,
			Actor:     actor.ID,
			ActorName: actor.Name,
			Message:   observation,
			Quantity:  &qty,
		}),
	})
	if err != nil {
		obs.ObserveTransition("resource", "re_request", "error")
		return nil, nil, authoritative(err)
	}
	obs.ObserveTransition("resource", "re_request", "ok")
	audit.LogTransition(ctx, "resource.re_request", actor.ID, requestID, map[string]any{
		"event": request.EventID, "quantity": quantity,
	})

	var degs []Degradation
	// Advisory flag so the UI stops offering re-request on the stale
	// rejection notification.
	r.dispatcher.flagReRequested(ctx, &degs, requestID, TypeResourceRejected, request.Requester)

	category := ""
	itemName := request.ItemID
	if itemRec, err := r.core.store.FindOne(ctx, ColItems, request.ItemID); err == nil {
		category = itemRec.GetString("category")
		itemName = itemRec.GetString("name")
	}
	r.notifyResponsible(ctx, &degs, category, Draft{
		Title:          "Solicitação de material reaberta",
		Message:        fmt.Sprintf("%s reabriu a solicitação de %d × %s: %s", actor.Name, quantity, itemName, observation),
		Type:           TypeResourceRequest,
		EventID:        request.EventID,
		RelatedRequest: requestID,
		Data: map[string]any{
			"quantity":     quantity,
			"item_name":    itemName,
			"requester_id": request.Requester,
			"observation":  observation,
			"re_request":   true,
		},
	})

	result := decodeResourceRequest(updated)
	return &result, degs, nil
}

// notifyResponsible fans out to every holder of the responsible role plus
// the always-notified roles. Lookup failures degrade; zero recipients just
// means nobody is notified.
func (r *Resources) notifyResponsible(ctx context.Context, degs *[]Degradation, category string, draft Draft) {
	roles := append([]string{r.routing.RoleFor(category)}, r.routing.AlwaysNotify...)
	recipients, err := r.core.lookupUsersByRole(ctx, roles...)
	if err != nil {
		r.core.secondary(degs, "notification.responsible_lookup", err)
		return
	}
	if len(recipients) == 0 {
		return
	}
	_, dDegs := r.dispatcher.Dispatch(ctx, recipients, draft)
	*degs = append(*degs, dDegs...)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
