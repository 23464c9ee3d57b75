// Package workflow implements the event workflow engine: the participation,
// resource and transport lifecycles, the notification fan-out, and the
// read-time reconciliation of the legacy denormalized status map with the
// relational participant records.
package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"agendaflow/internal/obs"
	"agendaflow/internal/store"
)

// Collections the engine reads and writes. Any other collection belongs to
// the surrounding application.
const (
	ColEvents                = "events"
	ColParticipants          = "participants"
	ColParticipationRequests = "participation_requests"
	ColResourceRequests      = "resource_requests"
	ColItems                 = "items"
	ColUsers                 = "users"
	ColNotifications         = "notifications"
)

// ParticipantStatus is the membership state of a user in an event.
type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantRejected ParticipantStatus = "rejected"
)

// RequestStatus is shared by participation, resource and transport requests.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// HistoryAction tags one transition in a history log.
type HistoryAction string

const (
	ActionCreated        HistoryAction = "created"
	ActionApproved       HistoryAction = "approved"
	ActionRejected       HistoryAction = "rejected"
	ActionReRequested    HistoryAction = "re_requested"
	ActionComment        HistoryAction = "comment"
	ActionInviteCreated  HistoryAction = "invite_created"
	ActionInviteAccepted HistoryAction = "invite_accepted"
	ActionInviteRejected HistoryAction = "invite_rejected"
	ActionInviteResent   HistoryAction = "invite_resent"
)

// Role labels carried by user records and JWT claims.
const (
	RoleAdmin       = "ADMIN"
	RoleDCA         = "DCA"
	RoleALMC        = "ALMC"
	RoleServidor    = "SERVIDOR"
	RoleConvidado   = "CONVIDADO"
	RoleOrganizador = "ORGANIZADOR"
)

// Notification types.
const (
	TypeEventInvite           = "event_invite"
	TypeParticipationRequest  = "participation_request"
	TypeParticipationApproved = "participation_request_approved"
	TypeParticipationRejected = "participation_request_rejected"
	TypeResourceRequest       = "resource_request"
	TypeResourceApproved      = "resource_request_approved"
	TypeResourceRejected      = "resource_request_rejected"
	TypeTransportRequest      = "transport_request"
	TypeTransportApproved     = "transport_request_approved"
	TypeTransportRejected     = "transport_request_rejected"
)

// Error taxonomy. Only failures of the authoritative write surface to the
// caller; everything secondary becomes a Degradation.
var (
	ErrForbidden        = errors.New("workflow: forbidden")
	ErrConflict         = errors.New("workflow: conflict")
	ErrNotFound         = errors.New("workflow: not found")
	ErrInvalid          = errors.New("workflow: invalid input")
	ErrStoreUnavailable = errors.New("workflow: store unavailable")
)

// Actor identifies who is performing an operation. Name is snapshotted into
// history entries so the log stays readable after account changes.
type Actor struct {
	ID    string
	Name  string
	Roles []string
}

// HasRole reports whether the actor carries the role label.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is a shorthand for the administrator role.
func (a Actor) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// HistoryEntry is one append-only transition record. Seq breaks timestamp
// ties deterministically; chronological order is (Timestamp, Seq), never
// storage order.
type HistoryEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Seq       int           `json:"seq"`
	Action    HistoryAction `json:"action"`
	Actor     string        `json:"actor"`
	ActorName string        `json:"actorName"`
	Message   string        `json:"message,omitempty"`
	Quantity  *int          `json:"quantity,omitempty"`
}

// Degradation records a best-effort secondary write that failed. The
// operation it belongs to still succeeded: the authoritative state changed.
type Degradation struct {
	Op  string
	Err error
}

// RoleRouting maps an item category to the role responsible for deciding
// requests in that category. Injected configuration, so new categories are
// additive.
type RoleRouting struct {
	Categories   map[string]string
	Default      string
	AlwaysNotify []string
}

// RoleFor resolves the responsible role for a category.
func (r RoleRouting) RoleFor(category string) string {
	if role, ok := r.Categories[category]; ok {
		return role
	}
	return r.Default
}

// DefaultRouting is the production routing: informatics items go to DCA,
// everything else to ALMC, administrators always copied.
func DefaultRouting() RoleRouting {
	return RoleRouting{
		Categories:   map[string]string{"INFORMATICA": RoleDCA},
		Default:      RoleALMC,
		AlwaysNotify: []string{RoleAdmin},
	}
}

// Config assembles an Engine.
type Config struct {
	Routing RoleRouting
	// Roles that may not file participation requests.
	DisallowedRequestRoles []string
	Logger                 *zap.Logger
	Clock                  func() time.Time
}

// Engine bundles the lifecycles over one store.
type Engine struct {
	Participation *Participation
	Resources     *Resources
	Transport     *Transport
	Notifications *Dispatcher

	core core
}

// New wires an Engine over the given store.
func New(st store.Store, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Routing.Default == "" {
		cfg.Routing = DefaultRouting()
	}
	c := core{store: st, log: cfg.Logger, now: cfg.Clock}
	dispatcher := &Dispatcher{core: c}
	return &Engine{
		Participation: &Participation{core: c, dispatcher: dispatcher, disallowed: cfg.DisallowedRequestRoles},
		Resources:     &Resources{core: c, dispatcher: dispatcher, routing: cfg.Routing},
		Transport:     &Transport{core: c, dispatcher: dispatcher, routing: cfg.Routing},
		Notifications: dispatcher,
		core:          c,
	}
}

// core carries the dependencies every lifecycle shares.
type core struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// secondary records a failed best-effort write: logged, counted, appended,
// never propagated.
func (c core) secondary(degs *[]Degradation, op string, err error) {
	if err == nil {
		return
	}
	*degs = append(*degs, Degradation{Op: op, Err: err})
	c.log.Warn("degraded secondary write",
		zap.String("op", op),
		zap.Error(err),
	)
	obs.ObserveDegradedWrite(op)
}

// authoritative classifies an error from the single defining write.
func authoritative(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return errors.Join(ErrStoreUnavailable, err)
}

// lookupUsersByRole returns the ids of every user holding one of the roles.
// Zero matches is not an error: the request still exists for later review,
// it just notifies nobody.
func (c core) lookupUsersByRole(ctx context.Context, roles ...string) ([]string, error) {
	vals := make([]any, len(roles))
	for i, r := range roles {
		vals[i] = r
	}
	recs, err := c.store.Find(ctx, ColUsers, store.In("role", vals...), store.FindOptions{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(recs))
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r.ID)
	}
	return out, nil
}
