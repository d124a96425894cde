package audit

import (
	"context"
	"errors"
	"strings"

	"agentstore.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

type actorKey struct{}

// WithActor records the authenticated user id for subsequent audit entries.
func WithActor(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, userID)
}

func actorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor context.
// Refresh-token values passed in fields stay server-side only; they are never
// echoed to clients.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := obs.Logger().Info().Str("type", "audit").Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if actor := actorFromContext(ctx); actor != "" {
		entry = entry.Str("user_id", actor)
	}
	if len(fields) > 0 {
		entry = entry.Fields(fields)
	}
	entry.Send()
	return nil
}
