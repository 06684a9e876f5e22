package audit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/obs"
)

// Event names recorded by the service.
const (
	EventLogin        = "auth.login"
	EventLoginFailed  = "auth.login_failed"
	EventLogout       = "auth.logout"
	EventRefresh      = "auth.refresh"
	EventAccessDenied = "access.denied"
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

// LogEvent writes an audit log entry enriched with request, user and session context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	l := obs.Logger()
	e := l.Info().Str("type", "audit").Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		e = e.Str("request_id", rid)
	}
	if u, ok := auth.UserFromContext(ctx); ok {
		e = e.Str("user_id", u.ID).Str("role", string(u.Role))
	}
	if sid, ok := auth.SessionIDFromContext(ctx); ok {
		e = e.Str("session_id", sid)
	}

	// Keys are sorted so entries are stable across runs.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dict := zerolog.Dict()
	for _, k := range keys {
		dict = dict.Interface(k, fields[k])
	}
	e.Dict("fields", dict).Msg(event)
	return nil
}
