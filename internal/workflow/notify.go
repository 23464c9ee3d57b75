package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"agendaflow/internal/obs"
	"agendaflow/internal/store"
)

// Dispatcher turns lifecycle transitions into inbox entries and tracks the
// read/acknowledged flags.
type Dispatcher struct {
	core core
}

// Draft is the recipient-independent part of a notification batch.
type Draft struct {
	Title          string
	Message        string
	Type           string
	EventID        string
	RelatedRequest string
	InviteStatus   string
	Data           map[string]any
}

// Dispatch creates one notification per recipient. Failures are isolated:
// one failing recipient never blocks delivery to the others. The whole
// batch shares a correlation id so later retrofits can find it without
// scanning payloads.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []string, draft Draft) ([]Notification, []Degradation) {
	var (
		created []Notification
		degs    []Degradation
	)
	correlation := uuid.NewString()
	for _, recipient := range recipients {
		if recipient == "" {
			continue
		}
		fields := map[string]any{
			"recipient":     recipient,
			"title":         draft.Title,
			"message":       draft.Message,
			"type":          draft.Type,
			"read":          false,
			"acknowledged":  false,
			"correlationId": correlation,
		}
		if draft.EventID != "" {
			fields["event"] = draft.EventID
		}
		if draft.RelatedRequest != "" {
			fields["relatedRequest"] = draft.RelatedRequest
		}
		if draft.InviteStatus != "" {
			fields["inviteStatus"] = draft.InviteStatus
		}
		if len(draft.Data) > 0 {
			fields["data"] = draft.Data
		}
		rec, err := d.core.store.Create(ctx, ColNotifications, fields)
		obs.ObserveNotification(err == nil)
		if err != nil {
			d.core.secondary(&degs, "notification.create", fmt.Errorf("recipient %s: %w", recipient, err))
			continue
		}
		created = append(created, decodeNotification(rec))
	}
	return created, degs
}

// Inbox lists the actor's notifications, newest first.
func (d *Dispatcher) Inbox(ctx context.Context, actor Actor, onlyUnread bool) ([]Notification, error) {
	filter := store.And(store.Eq("recipient", actor.ID))
	if onlyUnread {
		filter = store.And(store.Eq("recipient", actor.ID), store.Eq("read", false))
	}
	recs, err := d.core.store.Find(ctx, ColNotifications, filter, store.FindOptions{Sort: "created", Desc: true})
	if err != nil {
		return nil, authoritative(err)
	}
	out := make([]Notification, 0, len(recs))
	for _, r := range recs {
		out = append(out, decodeNotification(r))
	}
	return out, nil
}

// MarkRead flags a notification as read. Any viewer of the inbox entry may
// toggle this; it carries no workflow meaning.
func (d *Dispatcher) MarkRead(ctx context.Context, actor Actor, id string) error {
	rec, err := d.core.store.FindOne(ctx, ColNotifications, id)
	if err != nil {
		return authoritative(err)
	}
	if rec.GetString("recipient") != actor.ID && !actor.IsAdmin() {
		return ErrForbidden
	}
	_, err = d.core.store.Update(ctx, ColNotifications, id, map[string]any{"read": true})
	return authoritative(err)
}

// Acknowledge records that the original actor has seen the outcome of their
// own action. Distinct from read: only the recipient may acknowledge, and
// only outcome notifications are acknowledgeable.
func (d *Dispatcher) Acknowledge(ctx context.Context, actor Actor, id string) error {
	rec, err := d.core.store.FindOne(ctx, ColNotifications, id)
	if err != nil {
		return authoritative(err)
	}
	if rec.GetString("recipient") != actor.ID {
		return ErrForbidden
	}
	if !isOutcomeType(rec.GetString("type")) {
		return fmt.Errorf("%w: notification is not an outcome", ErrInvalid)
	}
	_, err = d.core.store.Update(ctx, ColNotifications, id, map[string]any{
		"acknowledged": true,
		"read":         true,
	})
	return authoritative(err)
}

// NeedsAcknowledgment reports whether the notification represents a
// rejection the original actor has not yet confirmed seeing.
func NeedsAcknowledgment(n Notification) bool {
	return isRejectionType(n.Type) && !n.Acknowledged
}

func isOutcomeType(t string) bool {
	switch t {
	case TypeParticipationApproved, TypeParticipationRejected,
		TypeResourceApproved, TypeResourceRejected,
		TypeTransportApproved, TypeTransportRejected:
		return true
	}
	return false
}

func isRejectionType(t string) bool {
	switch t {
	case TypeParticipationRejected, TypeResourceRejected, TypeTransportRejected:
		return true
	}
	return false
}

// markInviteOutcome retrofits the outcome onto the invite notifications a
// response refers to. Best-effort: matched by recipient+event+type, every
// failure is swallowed into degradations.
func (d *Dispatcher) markInviteOutcome(ctx context.Context, degs *[]Degradation, eventID, userID string, status ParticipantStatus) {
	recs, err := d.core.store.Find(ctx, ColNotifications, store.And(
		store.Eq("recipient", userID),
		store.Eq("event", eventID),
		store.Eq("type", TypeEventInvite),
	), store.FindOptions{})
	if err != nil {
		d.core.secondary(degs, "notification.invite_outcome.find", err)
		return
	}
	for _, rec := range recs {
		_, err := d.core.store.Update(ctx, ColNotifications, rec.ID, map[string]any{
			"inviteStatus": string(status),
			"read":         true,
		})
		d.core.secondary(degs, "notification.invite_outcome.update", err)
	}
}

// resolveDecision retrofits the decision outcome onto the notification that
// triggered it. Primary match is the correlation id propagated through the
// decision path; records created before correlation ids existed fall back
// to the legacy payload scan on data.requester_id. The scan has no
// uniqueness guarantee, so the newest unresolved candidate wins.
func (d *Dispatcher) resolveDecision(ctx context.Context, degs *[]Degradation, eventID, correlationID, requesterID string, outcome RequestStatus) {
	if correlationID != "" {
		recs, err := d.core.store.Find(ctx, ColNotifications, store.Eq("correlationId", correlationID), store.FindOptions{})
		if err != nil {
			d.core.secondary(degs, "notification.resolve.find", err)
			return
		}
		if len(recs) > 0 {
			for _, rec := range recs {
				_, err := d.core.store.Update(ctx, ColNotifications, rec.ID, map[string]any{
					"inviteStatus": string(outcome),
					"read":         true,
				})
				d.core.secondary(degs, "notification.resolve.update", err)
			}
			return
		}
	}

	// Legacy fallback: correlation-by-payload scan.
	recs, err := d.core.store.Find(ctx, ColNotifications, store.And(
		store.Eq("event", eventID),
		store.Eq("type", TypeParticipationRequest),
		store.Eq("data.requester_id", requesterID),
	), store.FindOptions{Sort: "created", Desc: true})
	if err != nil {
		d.core.secondary(degs, "notification.resolve.scan", err)
		return
	}
	for _, rec := range recs {
		if rec.GetString("inviteStatus") != "" {
			continue // already resolved, likely an older duplicate
		}
		_, err := d.core.store.Update(ctx, ColNotifications, rec.ID, map[string]any{
			"inviteStatus": string(outcome),
			"read":         true,
		})
		d.core.secondary(degs, "notification.resolve.update", err)
		return
	}
}

// flagReRequested marks the rejection notification that triggered a
// re-request so the UI can suppress duplicate affordances. Advisory only.
func (d *Dispatcher) flagReRequested(ctx context.Context, degs *[]Degradation, requestID, rejectionType, recipient string) {
	recs, err := d.core.store.Find(ctx, ColNotifications, store.And(
		store.Eq("relatedRequest", requestID),
		store.Eq("type", rejectionType),
		store.Eq("recipient", recipient),
	), store.FindOptions{Sort: "created", Desc: true, Limit: 1})
	if err != nil {
		d.core.secondary(degs, "notification.re_requested.find", err)
		return
	}
	if len(recs) == 0 {
		return
	}
	data := recs[0].GetMap("data")
	if data == nil {
		data = map[string]any{}
	}
	data["re_requested"] = true
	_, err = d.core.store.Update(ctx, ColNotifications, recs[0].ID, map[string]any{"data": data})
	d.core.secondary(degs, "notification.re_requested.update", err)
}
