package workflow

import (
	"context"
	"fmt"
	"time"

	"agendaflow/internal/audit"
	"agendaflow/internal/obs"
)

// Transport mirrors the resource lifecycle for the (at most one) transport
// request embedded in an event record. The same transitions apply, but the
// state lives in scalar fields on the event and the log in its
// transportHistory array; "quantity" is the number of passengers.
type Transport struct {
	core       core
	dispatcher *Dispatcher
	routing    RoleRouting
}

// TransportDetails is the payload of a transport request.
type TransportDetails struct {
	Origin        string
	Destination   string
	Departure     time.Time
	Return        time.Time
	Passengers    int
	Justification string
}

// Request opens the event's transport request. Fails with Conflict when one
// already exists; the event update is the authoritative write.
func (t *Transport) Request(ctx context.Context, actor Actor, eventID string, details TransportDetails) (*TransportView, []Degradation, error) {
	if details.Passengers <= 0 {
		return nil, nil, fmt.Errorf("%w: passengers must be positive", ErrInvalid)
	}
	rec, err := t.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	event := decodeEvent(rec)
	if event.Organizer != actor.ID && !actor.IsAdmin() {
		return nil, nil, ErrForbidden
	}
	if event.Canceled {
		return nil, nil, fmt.Errorf("%w: event is canceled", ErrConflict)
	}
	if event.Transport.Requested {
		return nil, nil, fmt.Errorf("%w: event already has a transport request", ErrConflict)
	}

	passengers := details.Passengers
	updated, err := t.core.store.Update(ctx, ColEvents, eventID, map[string]any{
		"transportRequested":     true,
		"transportStatus":        string(StatusPending),
		"transportOrigin":        details.Origin,
		"transportDestination":   details.Destination,
		"transportDeparture":     encodeTime(details.Departure),
		"transportReturn":        encodeTime(details.Return),
		"transportPassengers":    details.Passengers,
		"transportJustification": details.Justification,
		"transportRequester":     actor.ID,
		"transportHistory": AppendHistory(rec, "transportHistory", HistoryEntry{
			Timestamp: t.core.now().UTC(),
			Action:    ActionCreated,
			Actor:     actor.ID,
			ActorName: actor.Name,
			Message:   details.Justification,
			Quantity:  &passengers,
		}),
	})
	if err != nil {
		obs.ObserveTransition("transport", "create", "error")
		return nil, nil, authoritative(err)
	}
	obs.ObserveTransition("transport", "create", "ok")
	audit.LogTransition(ctx, "transport.create", actor.ID, eventID, map[string]any{
		"passengers": details.Passengers,
	})

	var degs []Degradation
	t.notifyResponsible(ctx, &degs, Draft{
		Title:          "Nova solicitação de transporte",
		Message:        fmt.Sprintf("%s solicitou transporte para %d passageiro(s) no evento %q.", actor.Name, details.Passengers, event.Title),
		Type:           TypeTransportRequest,
		EventID:        eventID,
		RelatedRequest: eventID,
		Data: map[string]any{
			"passengers":   details.Passengers,
			"origin":       details.Origin,
			"destination":  details.Destination,
			"requester_id": actor.ID,
		},
	})

	view := decodeEvent(updated).Transport
	return &view, degs, nil
}

// Decide approves or rejects the transport request. Restricted to the
// responsible role; repeating a decision with the same outcome is a no-op.
func (t *Transport) Decide(ctx context.Context, actor Actor, eventID string, approve bool, justification string) (*TransportView, []Degradation, error) {
	responsible := t.routing.Default
	if !actor.HasRole(responsible) && !actor.IsAdmin() {
		return nil, nil, fmt.Errorf("%w: decision restricted to role %s", ErrForbidden, responsible)
	}
	rec, err := t.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	event := decodeEvent(rec)
	if !event.Transport.Requested {
		return nil, nil, fmt.Errorf("%w: event has no transport request", ErrNotFound)
	}

	target := StatusApproved
	action := ActionApproved
	if !approve {
		target = StatusRejected
		action = ActionRejected
	}
	if event.Transport.Status == target {
		view := event.Transport
		return &view, nil, nil // safe retry
	}

	updated, err := t.core.store.Update(ctx, ColEvents, eventID, map[string]any{
		"transportStatus": string(target),
		"transportHistory": AppendHistory(rec, "transportHistory", HistoryEntry{
			Timestamp: t.core.now().UTC(),
			Action:    action,
			Actor:     actor.ID,
			ActorName: actor.Name,
			Message:   justification,
		}),
	})
	if err != nil {
		obs.ObserveTransition("transport", string(action), "error")
		return nil, nil, authoritative(err)
	}
	obs.ObserveTransition("transport", string(action), "ok")
	audit.LogTransition(ctx, "transport."+string(action), actor.ID, eventID, nil)

	var degs []Degradation
	recipient := rec.GetString("transportRequester")
	if recipient == "" {
		recipient = event.Organizer
	}
	if approve {
		_, dDegs := t.dispatcher.Dispatch(ctx, []string{recipient}, Draft{
			Title:          "Transporte aprovado",
			Message:        fmt.Sprintf("O transporte para o evento %q foi aprovado.", event.Title),
			Type:           TypeTransportApproved,
			EventID:        eventID,
			RelatedRequest: eventID,
			InviteStatus:   string(StatusApproved),
			Data:           map[string]any{"passengers": event.Transport.Passengers},
		})
		degs = append(degs, dDegs...)
	} else {
		msg := fmt.Sprintf("O transporte para o evento %q foi recusado.", event.Title)
		if justification != "" {
			msg = fmt.Sprintf("O transporte para o evento %q foi recusado: %s", event.Title, justification)
		}
		_, dDegs := t.dispatcher.Dispatch(ctx, []string{recipient}, Draft{
			Title:          "Transporte recusado",
			Message:        msg,
			Type:           TypeTransportRejected,
			EventID:        eventID,
			RelatedRequest: eventID,
			InviteStatus:   string(StatusRejected),
			Data: map[string]any{
				"passengers":    event.Transport.Passengers,
				"justification": justification,
			},
		})
		degs = append(degs, dDegs...)
	}

	view := decodeEvent(updated).Transport
	return &view, degs, nil
}

// ReRequest reopens a rejected transport request with a new passenger count
// and an observation. Not idempotent; the UI debounces.
func (t *Transport) ReRequest(ctx context.Context, actor Actor, eventID string, passengers int, observation string) (*TransportView, []Degradation, error) {
	if passengers <= 0 {
		return nil, nil, fmt.Errorf("%w: passengers must be positive", ErrInvalid)
	}
	rec, err := t.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	event := decodeEvent(rec)
	if !event.Transport.Requested {
		return nil, nil, fmt.Errorf("%w: event has no transport request", ErrNotFound)
	}
	if event.Transport.Status != StatusRejected {
		return nil, nil, fmt.Errorf("%w: only rejected transport can be re-requested", ErrConflict)
	}
	requester := rec.GetString("transportRequester")
	if requester == "" {
		requester = event.Organizer
	}
	if actor.ID != requester && !actor.IsAdmin() {
		return nil, nil, ErrForbidden
	}

	count := passengers
	updated, err := t.core.store.Update(ctx, ColEvents, eventID, map[string]any{
		"transportStatus":        string(StatusPending),
		"transportPassengers":    passengers,
		"transportJustification": observation,
		"transportHistory": AppendHistory(rec, "transportHistory", HistoryEntry{
			Timestamp: t.core.now().UTC(),
			Action:    ActionReRequested,
			Actor:     actor.ID,
			ActorName: actor.Name,
			Message:   observation,
			Quantity:  &count,
		}),
	})
	if err != nil {
		obs.ObserveTransition("transport", "re_request", "error")
		return nil, nil, authoritative(err)
	}
	obs.ObserveTransition("transport", "re_request", "ok")
	audit.LogTransition(ctx, "transport.re_request", actor.ID, eventID, map[string]any{
		"passengers": passengers,
	})

	var degs []Degradation
	t.dispatcher.flagReRequested(ctx, &degs, eventID, TypeTransportRejected, requester)
	t.notifyResponsible(ctx, &degs, Draft{
		Title:          "Solicitação de transporte reaberta",
		Message:        fmt.Sprintf("%s reabriu a solicitação de transporte do evento %q: %s", actor.Name, event.Title, observation),
		Type:           TypeTransportRequest,
		EventID:        eventID,
		RelatedRequest: eventID,
		Data: map[string]any{
			"passengers":   passengers,
			"observation":  observation,
			"requester_id": requester,
			"re_request":   true,
		},
	})

	view := decodeEvent(updated).Transport
	return &view, degs, nil
}

func (t *Transport) notifyResponsible(ctx context.Context, degs *[]Degradation, draft Draft) {
	roles := append([]string{t.routing.Default}, t.routing.AlwaysNotify...)
	recipients, err := t.core.lookupUsersByRole(ctx, roles...)
	if err != nil {
		t.core.secondary(degs, "notification.responsible_lookup", err)
		return
	}
	if len(recipients) == 0 {
		return
	}
	_, dDegs := t.dispatcher.Dispatch(ctx, recipients, draft)
	*degs = append(*degs, dDegs...)
}

func encodeTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
