package workflow

import (
	"context"
	"fmt"

	"agendaflow/internal/audit"
	"agendaflow/internal/obs"
	"agendaflow/internal/store"
)

// MergeParticipantStatus produces the single authoritative status map for
// display out of three possibly-divergent sources. Precedence, lowest
// first: the event's legacy denormalized map, an implicit pending for every
// participant without an entry, and the relational participant records,
// which always win. Deterministic by source priority; the legacy map
// carries no timestamps to merge on.
//
// The organizer is never a key: callers treat them as implicitly accepted.
func MergeParticipantStatus(event Event, records []ParticipantRecord) map[string]ParticipantStatus {
	merged := make(map[string]ParticipantStatus, len(event.Participants))

	// Base layer: whatever the stale map still claims.
	for user, status := range event.ParticipantsStatus {
		if user == event.Organizer {
			continue
		}
		merged[user] = status
	}

	// Participants the map never heard of default to pending.
	for _, user := range event.Participants {
		if user == event.Organizer {
			continue
		}
		if _, ok := merged[user]; !ok {
			merged[user] = ParticipantPending
		}
	}

	// Source of truth overwrites everything.
	for _, rec := range records {
		if rec.EventID != event.ID || rec.UserID == event.Organizer {
			continue
		}
		merged[rec.UserID] = rec.Status
	}

	return merged
}

// EventView is the reconciled read model the UI renders.
type EventView struct {
	Event             Event                        `json:"event"`
	ParticipantStatus map[string]ParticipantStatus `json:"participantStatus"`
	Records           []ParticipantRecord          `json:"records"`
}

// EventView loads the event and recomputes the merged participant view.
// A missing or stale legacy map is no additional information, never an
// error. Histories come back chronologically sorted.
func (e *Engine) EventView(ctx context.Context, eventID string) (*EventView, error) {
	rec, err := e.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, authoritative(err)
	}
	event := decodeEvent(rec)

	records, err := e.core.store.Find(ctx, ColParticipants, store.Eq("event", eventID), store.FindOptions{})
	if err != nil {
		return nil, authoritative(err)
	}
	participants := make([]ParticipantRecord, 0, len(records))
	for _, r := range records {
		participants = append(participants, decodeParticipant(r))
	}

	return &EventView{
		Event:             event,
		ParticipantStatus: MergeParticipantStatus(event, participants),
		Records:           participants,
	}, nil
}

// EventDraft is the organizer's input for a new event.
type EventDraft struct {
	Title       string
	Description string
	Location    string
	StartsAt    string
	EndsAt      string
	Restricted  bool
}

// CreateEvent persists a new event owned by the actor.
func (e *Engine) CreateEvent(ctx context.Context, actor Actor, draft EventDraft) (*Event, error) {
	if draft.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	rec, err := e.core.store.Create(ctx, ColEvents, map[string]any{
		"organizer":          actor.ID,
		"title":              draft.Title,
		"description":        draft.Description,
		"location":           draft.Location,
		"startsAt":           draft.StartsAt,
		"endsAt":             draft.EndsAt,
		"restricted":         draft.Restricted,
		"canceled":           false,
		"participants":       []any{},
		"participantsStatus": map[string]any{},
		"participantsRole":   map[string]any{},
		"transportRequested": false,
	})
	if err != nil {
		obs.ObserveTransition("event", "create", "error")
		return nil, authoritative(err)
	}
	obs.ObserveTransition("event", "create", "ok")
	audit.LogTransition(ctx, "event.create", actor.ID, rec.ID, map[string]any{"title": draft.Title})
	event := decodeEvent(rec)
	return &event, nil
}

// DeleteEvent removes the event and cascades best-effort deletion of the
// records referencing it. The event delete is the authoritative write;
// orphan cleanup failures degrade.
func (e *Engine) DeleteEvent(ctx context.Context, actor Actor, eventID string) ([]Degradation, error) {
	rec, err := e.core.store.FindOne(ctx, ColEvents, eventID)
	if err != nil {
		return nil, authoritative(err)
	}
	if rec.GetString("organizer") != actor.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	if err := e.core.store.Delete(ctx, ColEvents, eventID); err != nil {
		obs.ObserveTransition("event", "delete", "error")
		return nil, authoritative(err)
	}
	obs.ObserveTransition("event", "delete", "ok")
	audit.LogTransition(ctx, "event.delete", actor.ID, eventID, nil)

	var degs []Degradation
	for _, col := range []string{ColParticipants, ColParticipationRequests, ColResourceRequests, ColNotifications} {
		refs, err := e.core.store.Find(ctx, col, store.Eq("event", eventID), store.FindOptions{})
		if err != nil {
			e.core.secondary(&degs, col+".cascade_find", err)
			continue
		}
		for _, ref := range refs {
			err := e.core.store.Delete(ctx, col, ref.ID)
			e.core.secondary(&degs, col+".cascade_delete", err)
		}
	}
	return degs, nil
}
