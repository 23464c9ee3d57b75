package workflow

import (
	"time"

	"agendaflow/internal/store"
)

// Event is the decoded view of an events record.
type Event struct {
	ID           string    `json:"id"`
	Organizer    string    `json:"organizer"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	StartsAt     time.Time `json:"startsAt"`
	EndsAt       time.Time `json:"endsAt"`
	Restricted   bool      `json:"restricted"`
	Canceled     bool      `json:"canceled"`
	Participants []string  `json:"participants"`
	// Legacy denormalized map; it may lag the participants collection.
	// Display code must go through MergeParticipantStatus instead of
	// reading it directly.
	ParticipantsStatus map[string]ParticipantStatus `json:"participantsStatus"`
	ParticipantsRole   map[string]string            `json:"participantsRole"`
	Transport          TransportView                `json:"transport"`
}

// TransportView is the transport request embedded in an event record.
type TransportView struct {
	Requested     bool           `json:"requested"`
	Status        RequestStatus  `json:"status,omitempty"`
	Origin        string         `json:"origin,omitempty"`
	Destination   string         `json:"destination,omitempty"`
	Departure     time.Time      `json:"departure,omitzero"`
	Return        time.Time      `json:"return,omitzero"`
	Passengers    int            `json:"passengers,omitempty"`
	Justification string         `json:"justification,omitempty"`
	History       []HistoryEntry `json:"history"`
}

// ParticipantRecord is the relational source of truth for membership.
type ParticipantRecord struct {
	ID      string            `json:"id"`
	EventID string            `json:"event"`
	UserID  string            `json:"user"`
	Status  ParticipantStatus `json:"status"`
	Role    string            `json:"role,omitempty"`
}

// ParticipationRequest is a user's self-filed request to join an event.
type ParticipationRequest struct {
	ID        string        `json:"id"`
	EventID   string        `json:"event"`
	Requester string        `json:"requester"`
	Status    RequestStatus `json:"status"`
	Message   string        `json:"message,omitempty"`
	Role      string        `json:"role,omitempty"`
	Created   time.Time     `json:"created"`
}

// ResourceRequest is a request for an item tied to an event.
type ResourceRequest struct {
	ID            string         `json:"id"`
	EventID       string         `json:"event"`
	ItemID        string         `json:"item"`
	Requester     string         `json:"requester,omitempty"`
	Quantity      int            `json:"quantity"`
	Status        RequestStatus  `json:"status"`
	Justification string         `json:"justification,omitempty"`
	History       []HistoryEntry `json:"history"`
	Created       time.Time      `json:"created"`
}

// Notification is one inbox entry.
type Notification struct {
	ID             string         `json:"id"`
	Recipient      string         `json:"recipient"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Type           string         `json:"type"`
	EventID        string         `json:"event,omitempty"`
	RelatedRequest string         `json:"relatedRequest,omitempty"`
	Read           bool           `json:"read"`
	InviteStatus   string         `json:"inviteStatus,omitempty"`
	Acknowledged   bool           `json:"acknowledged"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Created        time.Time      `json:"created"`
}

func decodeEvent(r store.Record) Event {
	e := Event{
		ID:           r.ID,
		Organizer:    r.GetString("organizer"),
		Title:        r.GetString("title"),
		Description:  r.GetString("description"),
		Location:     r.GetString("location"),
		StartsAt:     r.GetTime("startsAt"),
		EndsAt:       r.GetTime("endsAt"),
		Restricted:   r.GetBool("restricted"),
		Canceled:     r.GetBool("canceled"),
		Participants: r.GetStringSlice("participants"),
		Transport: TransportView{
			Requested:     r.GetBool("transportRequested"),
			Status:        RequestStatus(r.GetString("transportStatus")),
			Origin:        r.GetString("transportOrigin"),
			Destination:   r.GetString("transportDestination"),
			Departure:     r.GetTime("transportDeparture"),
			Return:        r.GetTime("transportReturn"),
			Passengers:    r.GetInt("transportPassengers"),
			Justification: r.GetString("transportJustification"),
			History:       DecodeHistory(r, "transportHistory"),
		},
	}
	e.ParticipantsStatus = map[string]ParticipantStatus{}
	for user, v := range r.GetMap("participantsStatus") {
		if s, ok := v.(string); ok {
			e.ParticipantsStatus[user] = ParticipantStatus(s)
		}
	}
	e.ParticipantsRole = map[string]string{}
	for user, v := range r.GetMap("participantsRole") {
		if s, ok := v.(string); ok {
			e.ParticipantsRole[user] = s
		}
	}
	return e
}

func decodeParticipant(r store.Record) ParticipantRecord {
	return ParticipantRecord{
		ID:      r.ID,
		EventID: r.GetString("event"),
		UserID:  r.GetString("user"),
		Status:  ParticipantStatus(r.GetString("status")),
		Role:    r.GetString("role"),
	}
}

func decodeParticipationRequest(r store.Record) ParticipationRequest {
	return ParticipationRequest{
		ID:        r.ID,
		EventID:   r.GetString("event"),
		Requester: r.GetString("requester"),
		Status:    RequestStatus(r.GetString("status")),
		Message:   r.GetString("message"),
		Role:      r.GetString("role"),
		Created:   r.Created,
	}
}

func decodeResourceRequest(r store.Record) ResourceRequest {
	return ResourceRequest{
		ID:            r.ID,
		EventID:       r.GetString("event"),
		ItemID:        r.GetString("item"),
		Requester:     r.GetString("requester"),
		Quantity:      r.GetInt("quantity"),
		Status:        RequestStatus(r.GetString("status")),
		Justification: r.GetString("justification"),
		History:       DecodeHistory(r, "history"),
		Created:       r.Created,
	}
}

func decodeNotification(r store.Record) Notification {
	return Notification{
		ID:             r.ID,
		Recipient:      r.GetString("recipient"),
		Title:          r.GetString("title"),
		Message:        r.GetString("message"),
		Type:           r.GetString("type"),
		EventID:        r.GetString("event"),
		RelatedRequest: r.GetString("relatedRequest"),
		Read:           r.GetBool("read"),
		InviteStatus:   r.GetString("inviteStatus"),
		Acknowledged:   r.GetBool("acknowledged"),
		CorrelationID:  r.GetString("correlationId"),
		Data:           r.GetMap("data"),
		Created:        r.Created,
	}
}
