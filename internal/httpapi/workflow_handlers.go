package httpapi

import (
	"net/http"
	"strings"

	"agendaflow/internal/workflow"
)

type createEventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
	Restricted  bool   `json:"restricted"`
}

type inviteRequest struct {
	Users []string `json:"users"`
	Role  string   `json:"role"`
}

type inviteResponseRequest struct {
	Accept bool `json:"accept"`
}

type participationRequestBody struct {
	Message string `json:"message"`
}

type decisionRequest struct {
	Approve       bool   `json:"approve"`
	Role          string `json:"role,omitempty"`
	Justification string `json:"justification,omitempty"`
}

type resourceRequestBody struct {
	Item          string `json:"item"`
	Quantity      int    `json:"quantity"`
	Justification string `json:"justification"`
}

type reRequestBody struct {
	Quantity    int    `json:"quantity"`
	Observation string `json:"observation"`
}

type transportRequestBody struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	Departure     string `json:"departure"`
	Return        string `json:"return"`
	Passengers    int    `json:"passengers"`
	Justification string `json:"justification"`
}

type transportReRequestBody struct {
	Passengers  int    `json:"passengers"`
	Observation string `json:"observation"`
}

func (a *API) handleEventsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actorFrom(w, r)
	if !ok {
		return
	}
	var req createEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	event, err := a.engine.CreateEvent(r.Context(), actor, workflow.EventDraft{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Restricted:  req.Restricted,
	})
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/events/"+event.ID)
	writeJSON(w, http.StatusCreated, event)
}

// handleEventResource routes everything under /v1/events/{id}.
func (a *API) handleEventResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	if path == "" {
		respondError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		respondError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getEvent(w, r, id)
		case http.MethodDelete:
			a.deleteEvent(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case "invitations":
		a.postOnly(w, r, func(actor workflow.Actor) { a.invite(w, r, actor, id) })
	case "invitations/response":
		a.postOnly(w, r, func(actor workflow.Actor) { a.respondInvitation(w, r, actor, id) })
	case "participation-requests":
		a.postOnly(w, r, func(actor workflow.Actor) { a.requestParticipation(w, r, actor, id) })
	case "resource-requests":
		a.postOnly(w, r, func(actor workflow.Actor) { a.createResourceRequest(w, r, actor, id) })
	case "transport":
		a.postOnly(w, r, func(actor workflow.Actor) { a.requestTransport(w, r, actor, id) })
	case "transport/decision":
		a.postOnly(w, r, func(actor workflow.Actor) { a.decideTransport(w, r, actor, id) })
	case "transport/re-request":
		a.postOnly(w, r, func(actor workflow.Actor) { a.reRequestTransport(w, r, actor, id) })
	default:
		respondError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) postOnly(w http.ResponseWriter, r *http.Request, fn func(workflow.Actor)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actorFrom(w, r)
	if !ok {
		return
	}
	fn(actor)
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request, id string) {
	view, err := a.engine.EventView(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) deleteEvent(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := a.actorFrom(w, r)
	if !ok {
		return
	}
	degs, err := a.engine.DeleteEvent(r.Context(), actor, id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":      id,
		"degradations": degradationPayload(degs),
	})
}

func (a *API) invite(w http.ResponseWriter, r *http.Request, actor workflow.Actor, eventID string) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Users) == 0 {
		respondError(w, r, http.StatusBadRequest, "users are required")
		return
	}
	degs, err := a.engine.Participation.Invite(r.Context(), actor, eventID, req.Users, req.Role)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invited":      req.Users,
		"degradations": degradationPayload(degs),
	})
}

func (a *API) respondInvitation(w http.ResponseWriter, r *http.Request, actor workflow.Actor, eventID string) {
	var req inviteResponseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	record, degs, err := a.engine.Participation.RespondToInvitation(r.Context(), actor, eventID, req.Accept)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participant":  record,
		"degradations": degradationPayload(degs),
	})
}

func (a *API) requestParticipation(w http.ResponseWriter, r *http.Request, actor workflow.Actor, eventID string) {
	var req participationRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	request, degs, err := a.engine.Participation.RequestParticipation(r.Context(), actor, eventID, req.Message)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request":      request,
		"degradations": degradationPayload(degs),
	})
}

func (a *API) handleParticipationRequest(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitAction(r.URL.Path, "/v1/participation-requests/")
	if !ok || action != "decision" {
		respondError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.postOnly(w, r, func(actor workflow.Actor) {
		var req decisionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		decided, degs, err := a.engine.Participation.DecideRequest(r.Context(), actor, id, req.Approve, req.Role)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"request":      decided,
			"degradations": degradationPayload(degs),
		})
	})
}

func (a *API) createResourceRequest(w http.ResponseWriter, r *http.Request, actor workflow.Actor, eventID string) {
	var req resourceRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	request, degs, err := a.engine.Resources.Create(r.Context(), actor, eventID, req.Item, req.Quantity, req.Justification)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request":      request,
		"degradations": degradationPayload(degs),
	})
}

func (a *API) handleResourceRequest(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitAction(r.URL.Path, "/v1/resource-requests/")
	if !ok {
		respondError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch action {
	case "decision":
		a.postOnly(w, r, func(actor workflow.Actor) {
			var req decisionRequest
			if err := decodeJSON(w, r, &req); err != nil {
				respondError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			decided, degs, err := a.engine.Resources.Decide(r.Context(), actor, id, req.Approve, req.Justification)
			if err != nil {
				handleWorkflowError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"request":      decided,
				"degradations": degradationPayload(degs),
			})
		})
	case "re-request":
		a.postOnly(w, r, func(actor workflow.Actor) {
			var req reRequestBody
			if err := decodeJSON(w, r, &req); err != nil {
				respondError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			reopened, degs, err := a.engine.Resources.ReRequest(r.Context(), actor, id, req.Quantity, req.Observation)
			if err != nil {
				handleWorkflowError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"request":      reopened,
				"degradations": degradationPayload(degs),
			})
		})
	default:
		respondError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) requestTransport(w http.ResponseWriter, r *http.Request, actor workflow.Actor, eventID string) {
	var req transportRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	details := workflow.TransportDetails{
		Origin:        req.Origin,
		Destination:   req.Destination,
		Passengers:    req.Passengers,
		Justification: req.Justification,
	}
	var err error
	if details.Departure, err = parseTime(req.Departure); err != nil {
		respondError(w, r, http.StatusBadRequest, "departure must be RFC 3339")
		return
	}
	if details.Return, err = parseTime(req.Return); err != nil {
		respondError(w, r, http.StatusBadRequest, "return must be RFC 3339")
		return
	}
	view, degs, err := a.engine.Transport.Request(r.Context(), actor, eventID, details)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"transport":    view,
		"degradations": degradationPayload(degs),
	})
}

func (a *API) decideTransport(w http.ResponseWriter, r *http.Request, actor workflow.Actor, eventID string) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, degs, err := a.engine.Transport.Decide(r.Context(), actor, eventID, req.Approve, req.Justification)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transport":    view,
		"degradations": degradationPayload(degs),
	})
}

func (a *API) reRequestTransport(w http.ResponseWriter, r *http.Request, actor workflow.Actor, eventID string) {
	var req transportReRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, degs, err := a.engine.Transport.ReRequest(r.Context(), actor, eventID, req.Passengers, req.Observation)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transport":    view,
		"degradations": degradationPayload(degs),
	})
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.actorFrom(w, r)
	if !ok {
		return
	}
	unread := r.URL.Query().Get("unread") == "1"
	items, err := a.engine.Notifications.Inbox(r.Context(), actor, unread)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleNotificationAction(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitAction(r.URL.Path, "/v1/notifications/")
	if !ok {
		respondError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.postOnly(w, r, func(actor workflow.Actor) {
		var err error
		switch action {
		case "read":
			err = a.engine.Notifications.MarkRead(r.Context(), actor, id)
		case "acknowledge":
			err = a.engine.Notifications.Acknowledge(r.Context(), actor, id)
		default:
			respondError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

// splitAction parses "/prefix/{id}/{action}" paths.
func splitAction(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return "", "", false
	}
	id, action, found := strings.Cut(rest, "/")
	if !found || id == "" || action == "" || strings.Contains(action, "/") {
		return "", "", false
	}
	return id, action, true
}
