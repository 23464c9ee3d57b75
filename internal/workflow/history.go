package workflow

import (
	"sort"
	"time"

	"agendaflow/internal/store"
)

// DecodeHistory reads a history array off a record field and returns it in
// chronological order. Storage order is never trusted: concurrent appends
// from different clients can land out of order.
func DecodeHistory(r store.Record, field string) []HistoryEntry {
	raw := r.GetList(field)
	out := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, decodeHistoryEntry(m))
	}
	SortHistory(out)
	return out
}

// SortHistory orders entries by (Timestamp, Seq) ascending, in place.
func SortHistory(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// AppendHistory returns the stored array plus one new entry. The entry gets
// a sequence number one above the highest already present, which breaks
// timestamp ties deterministically. The returned slice is what callers
// write back; existing entries are carried over untouched.
func AppendHistory(r store.Record, field string, entry HistoryEntry) []any {
	raw := r.GetList(field)
	maxSeq := 0
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if seq := intField(m, "seq"); seq > maxSeq {
			maxSeq = seq
		}
	}
	entry.Seq = maxSeq + 1
	out := make([]any, 0, len(raw)+1)
	out = append(out, raw...)
	out = append(out, encodeHistoryEntry(entry))
	return out
}

func encodeHistoryEntry(e HistoryEntry) map[string]any {
	m := map[string]any{
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"seq":       e.Seq,
		"action":    string(e.Action),
		"actor":     e.Actor,
		"actorName": e.ActorName,
	}
	if e.Message != "" {
		m["message"] = e.Message
	}
	if e.Quantity != nil {
		m["quantity"] = *e.Quantity
	}
	return m
}

func decodeHistoryEntry(m map[string]any) HistoryEntry {
	e := HistoryEntry{
		Seq:       intField(m, "seq"),
		Action:    HistoryAction(stringField(m, "action")),
		Actor:     stringField(m, "actor"),
		ActorName: stringField(m, "actorName"),
		Message:   stringField(m, "message"),
	}
	if ts := stringField(m, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
	} else if t, ok := m["timestamp"].(time.Time); ok {
		e.Timestamp = t
	}
	if _, ok := m["quantity"]; ok {
		q := intField(m, "quantity")
		e.Quantity = &q
	}
	return e
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch t := m[key].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}
