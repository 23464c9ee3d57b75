package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"agendaflow/internal/store"
	"agendaflow/internal/workflow"
)

func newTestAPI(t *testing.T) (*API, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := workflow.New(mem, workflow.Config{Logger: zap.NewNop()})
	api := New(engine, mem, ReadyProbe{}, "test")
	api.DisableAuth()
	return api, mem
}

func seedUser(t *testing.T, m *store.Memory, name, role string) string {
	t.Helper()
	rec, err := m.Create(context.Background(), workflow.ColUsers, map[string]any{
		"name": name,
		"role": role,
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec.ID
}

func doJSON(t *testing.T, h http.Handler, method, path string, actorID, actorName, roles string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if actorID != "" {
		r.Header.Set("X-Actor-Id", actorID)
		r.Header.Set("X-Actor-Name", actorName)
		r.Header.Set("X-Actor-Roles", roles)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	api, _ := newTestAPI(t)
	w := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", "", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["service"] != "agendaflow-api" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	api, mem := newTestAPI(t)
	h := api.Handler()
	organizer := seedUser(t, mem, "Org", "SERVIDOR")
	invitee := seedUser(t, mem, "Ana", "SERVIDOR")

	// Create.
	w := doJSON(t, h, http.MethodPost, "/v1/events", organizer, "Org", "SERVIDOR",
		`{"title":"Semana de Extensão"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d body=%s", w.Code, w.Body.String())
	}
	var event struct {
		ID string `json:"id"`
	}
	decodeBody(t, w, &event)
	if event.ID == "" {
		t.Fatal("missing event id")
	}
	if loc := w.Header().Get("Location"); loc != "/v1/events/"+event.ID {
		t.Fatalf("unexpected Location: %q", loc)
	}

	// Invite.
	w = doJSON(t, h, http.MethodPost, "/v1/events/"+event.ID+"/invitations", organizer, "Org", "SERVIDOR",
		fmt.Sprintf(`{"users":[%q],"role":"APOIO"}`, invitee))
	if w.Code != http.StatusOK {
		t.Fatalf("invite: status = %d body=%s", w.Code, w.Body.String())
	}

	// Accept.
	w = doJSON(t, h, http.MethodPost, "/v1/events/"+event.ID+"/invitations/response", invitee, "Ana", "SERVIDOR",
		`{"accept":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("respond: status = %d body=%s", w.Code, w.Body.String())
	}

	// Reconciled view.
	w = doJSON(t, h, http.MethodGet, "/v1/events/"+event.ID, organizer, "Org", "SERVIDOR", "")
	if w.Code != http.StatusOK {
		t.Fatalf("view: status = %d", w.Code)
	}
	var view struct {
		ParticipantStatus map[string]string `json:"participantStatus"`
	}
	decodeBody(t, w, &view)
	if view.ParticipantStatus[invitee] != "accepted" {
		t.Fatalf("unexpected view: %v", view.ParticipantStatus)
	}

	// Invitee sees the invite notification.
	w = doJSON(t, h, http.MethodGet, "/v1/notifications", invitee, "Ana", "SERVIDOR", "")
	var inbox struct {
		Items []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"items"`
	}
	decodeBody(t, w, &inbox)
	if len(inbox.Items) != 1 || inbox.Items[0].Type != "event_invite" {
		t.Fatalf("unexpected inbox: %+v", inbox.Items)
	}
}

func TestErrorMapping(t *testing.T) {
	api, mem := newTestAPI(t)
	h := api.Handler()
	organizer := seedUser(t, mem, "Org", "SERVIDOR")
	other := seedUser(t, mem, "Outro", "SERVIDOR")

	w := doJSON(t, h, http.MethodPost, "/v1/events", organizer, "Org", "SERVIDOR", `{"title":"Evento"}`)
	var event struct {
		ID string `json:"id"`
	}
	decodeBody(t, w, &event)

	// Not found.
	w = doJSON(t, h, http.MethodGet, "/v1/events/missing", organizer, "Org", "SERVIDOR", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing event: status = %d", w.Code)
	}

	// Forbidden: non-organizer requests transport.
	w = doJSON(t, h, http.MethodPost, "/v1/events/"+event.ID+"/transport", other, "Outro", "SERVIDOR",
		`{"origin":"a","destination":"b","passengers":3}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("transport by stranger: status = %d body=%s", w.Code, w.Body.String())
	}

	// Conflict: duplicate transport request.
	body := `{"origin":"a","destination":"b","passengers":3}`
	w = doJSON(t, h, http.MethodPost, "/v1/events/"+event.ID+"/transport", organizer, "Org", "SERVIDOR", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("transport: status = %d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(t, h, http.MethodPost, "/v1/events/"+event.ID+"/transport", organizer, "Org", "SERVIDOR", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate transport: status = %d", w.Code)
	}

	// Invalid: resource request with zero quantity.
	w = doJSON(t, h, http.MethodPost, "/v1/events/"+event.ID+"/resource-requests", organizer, "Org", "SERVIDOR",
		`{"item":"any","quantity":0}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("zero quantity: status = %d", w.Code)
	}

	// Unauthenticated.
	w = doJSON(t, h, http.MethodGet, "/v1/notifications", "", "", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status = %d", w.Code)
	}
}

func TestResourceDecisionOverHTTP(t *testing.T) {
	api, mem := newTestAPI(t)
	h := api.Handler()
	organizer := seedUser(t, mem, "Org", "SERVIDOR")
	almc := seedUser(t, mem, "Almox", "ALMC")

	item, err := mem.Create(context.Background(), workflow.ColItems, map[string]any{
		"name": "Cadeira", "category": "MOBILIARIO",
	})
	if err != nil {
		t.Fatal(err)
	}
	w := doJSON(t, h, http.MethodPost, "/v1/events", organizer, "Org", "SERVIDOR", `{"title":"Evento"}`)
	var event struct {
		ID string `json:"id"`
	}
	decodeBody(t, w, &event)

	w = doJSON(t, h, http.MethodPost, "/v1/events/"+event.ID+"/resource-requests", organizer, "Org", "SERVIDOR",
		fmt.Sprintf(`{"item":%q,"quantity":5,"justification":"palestra"}`, item.ID))
	if w.Code != http.StatusCreated {
		t.Fatalf("create request: status = %d body=%s", w.Code, w.Body.String())
	}
	var created struct {
		Request struct {
			ID string `json:"id"`
		} `json:"request"`
	}
	decodeBody(t, w, &created)

	// Reject with justification; requester inbox carries the reason.
	w = doJSON(t, h, http.MethodPost, "/v1/resource-requests/"+created.Request.ID+"/decision", almc, "Almox", "ALMC",
		`{"approve":false,"justification":"sem estoque"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("decision: status = %d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/v1/notifications?unread=1", organizer, "Org", "SERVIDOR", "")
	var inbox struct {
		Items []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"items"`
	}
	decodeBody(t, w, &inbox)
	var found bool
	for _, n := range inbox.Items {
		if n.Type == "resource_request_rejected" && strings.Contains(n.Message, "sem estoque") {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejection with justification not delivered: %+v", inbox.Items)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api, mem := newTestAPI(t)
	h := api.Handler()
	user := seedUser(t, mem, "U", "SERVIDOR")

	w := doJSON(t, h, http.MethodGet, "/v1/events", user, "U", "SERVIDOR", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", w.Code)
	}
	if allow := w.Header().Get("Allow"); allow != "POST" {
		t.Fatalf("Allow = %q", allow)
	}
}
