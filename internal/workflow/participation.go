package workflow

import (
	"context"
	"fmt"

	"agendaflow/internal/audit"
	"agendaflow/internal/obs"
	"agendaflow/internal/store"
)

// Participation is the lifecycle of a user's membership in an event:
// none -> pending (invited or self-requested) -> accepted | rejected.
type Participation struct {
	core       core
	dispatcher *Dispatcher
	disallowed []string
}

// Invite adds users to the event's participant set and notifies them.
// Re-inviting someone already invited leaves the set untouched but re-sends
// the notification. The event update is the authoritative write; the legacy
// status map patch and the notifications are best-effort.
func (p *Participation) Invite(ctx context.Context, actor Actor, eventID string, userIDs []string, role string) ([]Degradation, error) {
	rec, err := p.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, authoritative(err)
	}
	event := decodeEvent(rec)
	if event.Organizer != actor.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if event.Canceled {
		return nil, fmt.Errorf("%w: event is canceled", ErrConflict)
	}

	existing := make(map[string]bool, len(event.Participants))
	for _, id := range event.Participants {
		existing[id] = true
	}

	participants := make([]any, 0, len(event.Participants)+len(userIDs))
	for _, id := range event.Participants {
		participants = append(participants, id)
	}
	roles := map[string]any{}
	for user, r := range event.ParticipantsRole {
		roles[user] = r
	}

	history := rec.GetList("participationHistory")
	now := p.core.now().UTC()
	var invited, resent []string
	for _, user := range userIDs {
		if user == "" || user == event.Organizer {
			continue
		}
		action := ActionInviteCreated
		if existing[user] {
			action = ActionInviteResent
			resent = append(resent, user)
		} else {
			existing[user] = true
			participants = append(participants, user)
			invited = append(invited, user)
		}
		if role != "" {
			roles[user] = role
		}
		history = appendRaw(history, HistoryEntry{
			Timestamp: now,
			Action:    action,
			Actor:     actor.ID,
			ActorName: actor.Name,
			Message:   user,
		})
	}
	if len(invited) == 0 && len(resent) == 0 {
		return nil, fmt.Errorf("%w: no users to invite", ErrInvalid)
	}

	if _, err := p.core.store.Update(ctx, ColEvents, eventID, map[string]any{
		"participants":         participants,
		"participantsRole":     roles,
		"participationHistory": history,
	}); err != nil {
		obs.ObserveTransition("participation", "invite", "error")
		return nil, authoritative(err)
	}
	obs.ObserveTransition("participation", "invite", "ok")
	audit.LogTransition(ctx, "participation.invite", actor.ID, eventID, map[string]any{
		"invited": invited, "resent": resent,
	})

	var degs []Degradation

	// Legacy denormalized map: new invitees show up as pending.
	if len(invited) > 0 {
		statuses := rec.GetMap("participantsStatus")
		if statuses == nil {
			statuses = map[string]any{}
		}
		for _, user := range invited {
			statuses[user] = string(ParticipantPending)
		}
		_, err := p.core.store.Update(ctx, ColEvents, eventID, map[string]any{"participantsStatus": statuses})
		p.core.secondary(&degs, "event.participants_status", err)
	}

	_, dispatchDegs := p.dispatcher.Dispatch(ctx, append(invited, resent...), Draft{
		Title:   "Convite para evento",
		Message: fmt.Sprintf("Você foi convidado(a) para o evento %q por %s.", event.Title, actor.Name),
		Type:    TypeEventInvite,
		EventID: eventID,
		Data:    map[string]any{"event_title": event.Title, "role": role},
	})
	degs = append(degs, dispatchDegs...)

	return degs, nil
}

// RequestParticipation files a pending participation request and notifies
// the organizer with the free-text message embedded.
func (p *Participation) RequestParticipation(ctx context.Context, actor Actor, eventID, message string) (*ParticipationRequest, []Degradation, error) {
	rec, err := p.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	event := decodeEvent(rec)

	if event.Restricted {
		return nil, nil, fmt.Errorf("%w: event is restricted", ErrForbidden)
	}
	for _, role := range p.disallowed {
		if actor.HasRole(role) {
			return nil, nil, fmt.Errorf("%w: role %s may not request participation", ErrForbidden, role)
		}
	}
	if event.Canceled {
		return nil, nil, fmt.Errorf("%w: event is canceled", ErrConflict)
	}
	if !event.EndsAt.IsZero() && event.EndsAt.Before(p.core.now()) {
		return nil, nil, fmt.Errorf("%w: event already ended", ErrConflict)
	}
	if actor.ID == event.Organizer {
		return nil, nil, fmt.Errorf("%w: organizer is already a participant", ErrConflict)
	}

	// At most one pending request per (event, user).
	pending, err := p.core.store.Find(ctx, ColParticipationRequests, store.And(
		store.Eq("event", eventID),
		store.Eq("requester", actor.ID),
		store.Eq("status", string(StatusPending)),
	), store.FindOptions{Limit: 1})
	if err != nil {
		return nil, nil, authoritative(err)
	}
	if len(pending) > 0 {
		return nil, nil, fmt.Errorf("%w: a pending request already exists", ErrConflict)
	}

	created, err := p.core.store.Create(ctx, ColParticipationRequests, map[string]any{
		"event":     eventID,
		"requester": actor.ID,
		"status":    string(StatusPending),
		"message":   message,
	})
	if err != nil {
		obs.ObserveTransition("participation", "request", "error")
		return nil, nil, authoritative(err)
	}
	obs.ObserveTransition("participation", "request", "ok")
	audit.LogTransition(ctx, "participation.request", actor.ID, created.ID, map[string]any{"event": eventID})

	var degs []Degradation
	msg := fmt.Sprintf("%s pediu para participar do evento %q.", actor.Name, event.Title)
	if message != "" {
		msg = fmt.Sprintf("%s pediu para participar do evento %q: %s", actor.Name, event.Title, message)
	}
	notifs, dispatchDegs := p.dispatcher.Dispatch(ctx, []string{event.Organizer}, Draft{
		Title:          "Nova solicitação de participação",
		Message:        msg,
		Type:           TypeParticipationRequest,
		EventID:        eventID,
		RelatedRequest: created.ID,
		Data: map[string]any{
			"requester_id":   actor.ID,
			"requester_name": actor.Name,
			"message":        message,
		},
	})
	degs = append(degs, dispatchDegs...)

	// The decision path finds the organizer's notification through this
	// correlation id instead of scanning payloads.
	if len(notifs) > 0 {
		_, err := p.core.store.Update(ctx, ColParticipationRequests, created.ID, map[string]any{
			"correlationId": notifs[0].CorrelationID,
		})
		p.core.secondary(&degs, "participation_request.correlation", err)
	}

	request := decodeParticipationRequest(created)
	return &request, degs, nil
}

// RespondToInvitation is the invitee accepting or rejecting. The
// ParticipantRecord upsert is the authoritative write and is idempotent;
// patching the invite notifications and the legacy status map is
// best-effort.
func (p *Participation) RespondToInvitation(ctx context.Context, actor Actor, eventID string, accept bool) (*ParticipantRecord, []Degradation, error) {
	rec, err := p.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	event := decodeEvent(rec)

	invited := false
	for _, id := range event.Participants {
		if id == actor.ID {
			invited = true
			break
		}
	}
	if !invited {
		return nil, nil, fmt.Errorf("%w: no invitation for this user", ErrNotFound)
	}

	status := ParticipantAccepted
	action := ActionInviteAccepted
	if !accept {
		status = ParticipantRejected
		action = ActionInviteRejected
	}

	record, err := p.upsertParticipant(ctx, eventID, actor.ID, status, event.ParticipantsRole[actor.ID])
	if err != nil {
		obs.ObserveTransition("participation", "respond", "error")
		return nil, nil, authoritative(err)
	}
	obs.ObserveTransition("participation", "respond", "ok")
	audit.LogTransition(ctx, "participation.respond", actor.ID, eventID, map[string]any{"status": string(status)})

	var degs []Degradation
	p.dispatcher.markInviteOutcome(ctx, &degs, eventID, actor.ID, status)
	p.patchLegacyStatus(ctx, &degs, eventID, actor.ID, status)
	p.appendEventHistory(ctx, &degs, eventID, HistoryEntry{
		Timestamp: p.core.now().UTC(),
		Action:    action,
		Actor:     actor.ID,
		ActorName: actor.Name,
	})

	return record, degs, nil
}

// DecideRequest is the organizer approving or rejecting a participation
// request. On approve the ParticipantRecord upsert is authoritative and
// everything else (request status, participant set, legacy map, the
// requester's notification and the retrofit of the organizer's original
// notification) is best-effort. On reject the request update itself is the
// authoritative write.
func (p *Participation) DecideRequest(ctx context.Context, actor Actor, requestID string, approve bool, role string) (*ParticipationRequest, []Degradation, error) {
	reqRec, err := p.core.store.FindOne(ctx, ColParticipationRequests, requestID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	request := decodeParticipationRequest(reqRec)

	eventRec, err := p.core.store.FindOne(ctx, ColEvents, request.EventID)
	if err != nil {
		return nil, nil, authoritative(err)
	}
	event := decodeEvent(eventRec)

	if event.Organizer != actor.ID && !actor.IsAdmin() {
		return nil, nil, ErrForbidden
	}

	target := StatusApproved
	if !approve {
		target = StatusRejected
	}
	if request.Status == target {
		return &request, nil, nil // safe retry, nothing to redo
	}

	var degs []Degradation
	correlation := reqRec.GetString("correlationId")

	if approve {
		if role == "" {
			role = request.Role
		}
		if _, err := p.upsertParticipant(ctx, request.EventID, request.Requester, ParticipantAccepted, role); err != nil {
			obs.ObserveTransition("participation", "approve", "error")
			return nil, nil, authoritative(err)
		}
		obs.ObserveTransition("participation", "approve", "ok")
		audit.LogTransition(ctx, "participation.approve", actor.ID, requestID, map[string]any{
			"event": request.EventID, "requester": request.Requester, "role": role,
		})

		_, err := p.core.store.Update(ctx, ColParticipationRequests, requestID, map[string]any{
			"status": string(StatusApproved),
			"role":   role,
		})
		p.core.secondary(&degs, "participation_request.status", err)

		p.addToParticipants(ctx, &degs, eventRec, request.Requester, role)
		p.patchLegacyStatus(ctx, &degs, request.EventID, request.Requester, ParticipantAccepted)

		msg := fmt.Sprintf("Sua solicitação para participar do evento %q foi aprovada.", event.Title)
		_, dDegs := p.dispatcher.Dispatch(ctx, []string{request.Requester}, Draft{
			Title:          "Participação aprovada",
			Message:        msg,
			Type:           TypeParticipationApproved,
			EventID:        request.EventID,
			RelatedRequest: requestID,
			InviteStatus:   string(StatusApproved),
			Data: map[string]any{
				"message": request.Message, // original text echoed back
				"role":    role,
			},
		})
		degs = append(degs, dDegs...)

		request.Status = StatusApproved
		request.Role = role
	} else {
		if _, err := p.core.store.Update(ctx, ColParticipationRequests, requestID, map[string]any{
			"status": string(StatusRejected),
		}); err != nil {
			obs.ObserveTransition("participation", "reject", "error")
			return nil, nil, authoritative(err)
		}
		obs.ObserveTransition("participation", "reject", "ok")
		audit.LogTransition(ctx, "participation.reject", actor.ID, requestID, map[string]any{
			"event": request.EventID, "requester": request.Requester,
		})

		msg := fmt.Sprintf("Sua solicitação para participar do evento %q foi recusada.", event.Title)
		_, dDegs := p.dispatcher.Dispatch(ctx, []string{request.Requester}, Draft{
			Title:          "Participação recusada",
			Message:        msg,
			Type:           TypeParticipationRejected,
			EventID:        request.EventID,
			RelatedRequest: requestID,
			InviteStatus:   string(StatusRejected),
			Data:           map[string]any{"message": request.Message},
		})
		degs = append(degs, dDegs...)

		request.Status = StatusRejected
	}

	p.dispatcher.resolveDecision(ctx, &degs, request.EventID, correlation, request.Requester, target)

	return &request, degs, nil
}

// upsertParticipant creates or updates the (event, user) record. Idempotent:
// repeating the call with the same target leaves exactly one record.
func (p *Participation) upsertParticipant(ctx context.Context, eventID, userID string, status ParticipantStatus, role string) (*ParticipantRecord, error) {
	existing, err := p.core.store.Find(ctx, ColParticipants, store.And(
		store.Eq("event", eventID),
		store.Eq("user", userID),
	), store.FindOptions{})
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"event":  eventID,
		"user":   userID,
		"status": string(status),
	}
	if role != "" {
		fields["role"] = role
	}

	var rec store.Record
	if len(existing) > 0 {
		rec, err = p.core.store.Update(ctx, ColParticipants, existing[0].ID, fields)
	} else {
		rec, err = p.core.store.Create(ctx, ColParticipants, fields)
	}
	if err != nil {
		return nil, err
	}
	record := decodeParticipant(rec)
	return &record, nil
}

func (p *Participation) addToParticipants(ctx context.Context, degs *[]Degradation, eventRec store.Record, userID, role string) {
	participants := eventRec.GetStringSlice("participants")
	present := false
	for _, id := range participants {
		if id == userID {
			present = true
			break
		}
	}
	fields := map[string]any{}
	if !present {
		fields["participants"] = append(toAnySlice(participants), userID)
	}
	if role != "" {
		roles := eventRec.GetMap("participantsRole")
		if roles == nil {
			roles = map[string]any{}
		}
		roles[userID] = role
		fields["participantsRole"] = roles
	}
	if len(fields) == 0 {
		return
	}
	_, err := p.core.store.Update(ctx, ColEvents, eventRec.ID, fields)
	p.core.secondary(degs, "event.participants", err)
}

func (p *Participation) patchLegacyStatus(ctx context.Context, degs *[]Degradation, eventID, userID string, status ParticipantStatus) {
	rec, err := p.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		p.core.secondary(degs, "event.participants_status", err)
		return
	}
	statuses := rec.GetMap("participantsStatus")
	if statuses == nil {
		statuses = map[string]any{}
	}
	statuses[userID] = string(status)
	_, err = p.core.store.Update(ctx, ColEvents, eventID, map[string]any{"participantsStatus": statuses})
	p.core.secondary(degs, "event.participants_status", err)
}

func (p *Participation) appendEventHistory(ctx context.Context, degs *[]Degradation, eventID string, entry HistoryEntry) {
	rec, err := p.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		p.core.secondary(degs, "event.participation_history", err)
		return
	}
	_, err = p.core.store.Update(ctx, ColEvents, eventID, map[string]any{
		"participationHistory": AppendHistory(rec, "participationHistory", entry),
	})
	p.core.secondary(degs, "event.participation_history", err)
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// appendRaw is AppendHistory for callers that already hold the raw list.
func appendRaw(raw []any, entry HistoryEntry) []any {
	maxSeq := 0
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			if seq := intField(m, "seq"); seq > maxSeq {
				maxSeq = seq
			}
		}
	}
	entry.Seq = maxSeq + 1
	out := make([]any, 0, len(raw)+1)
	out = append(out, raw...)
	out = append(out, encodeHistoryEntry(entry))
	return out
}
