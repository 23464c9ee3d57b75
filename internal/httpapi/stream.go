package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"agendaflow/internal/store"
)

var streamableCollections = map[string]bool{
	"events":        true,
	"notifications": true,
}

type streamEvent struct {
	Action     store.ChangeAction `json:"action"`
	Collection string             `json:"collection"`
	ID         string             `json:"id"`
	Updated    time.Time          `json:"updated"`
	Fields     map[string]any     `json:"fields"`
}

// Stream serves the change feed of one collection over Server-Sent Events.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	collection := r.URL.Query().Get("collection")
	if !streamableCollections[collection] {
		respondError(w, r, http.StatusBadRequest, "unknown collection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The response controller unwraps the middleware writers down to the
	// real connection, so flushing works behind the full handler chain.
	rc := http.NewResponseController(w)
	// A long-lived stream must outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx, collection)

	// Initial comment establishes the stream.
	if _, err := w.Write([]byte(": stream started\n\n")); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	for change := range ch {
		payload, err := json.Marshal(streamEvent{
			Action:     change.Action,
			Collection: change.Record.Collection,
			ID:         change.Record.ID,
			Updated:    change.Record.Updated,
			Fields:     change.Record.Fields,
		})
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
