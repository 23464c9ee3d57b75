// Package audit emits an append-only trail of workflow transitions. One
// JSON line per transition, enriched with the request id when the caller
// attached one to the context.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"agendaflow/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id, if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogTransition records one lifecycle transition. resource is the id of the
// record the transition applied to (event or request).
func LogTransition(ctx context.Context, event, actorID, resource string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entries := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
		zap.String("actor", actorID),
		zap.String("resource", resource),
		zap.Time("ts", time.Now().UTC()),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entries = append(entries, zap.String("request_id", rid))
	}
	if len(fields) > 0 {
		entries = append(entries, zap.Any("fields", fields))
	}
	obs.Logger().Info("workflow transition", entries...)
	return nil
}
