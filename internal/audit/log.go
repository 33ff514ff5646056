package audit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"sync/atomic"

	"ecolex.org/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	remoteKey    ctxKey = "audit_remote_addr"
	actorKey     ctxKey = "audit_actor"
)

var sink atomic.Pointer[slog.Logger]

// SetLogger redirects audit lines and returns a function restoring the
// previous destination.
func SetLogger(l *slog.Logger) (restore func()) {
	prev := sink.Swap(l)
	return func() { sink.Store(prev) }
}

func logger() *slog.Logger {
	if l := sink.Load(); l != nil {
		return l
	}
	return obs.Logger()
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRemoteAddr records the client address that issued the request.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	if addr == "" {
		return ctx
	}
	return context.WithValue(ctx, remoteKey, addr)
}

// WithActor records the authenticated subject behind the request.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

// LogEvent writes an audit log entry enriched with request context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []any{slog.String("type", "audit"), slog.String("event", event)}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if addr, ok := ctx.Value(remoteKey).(string); ok {
		attrs = append(attrs, slog.String("remote_addr", addr))
	}
	if actor, ok := ctx.Value(actorKey).(string); ok {
		attrs = append(attrs, slog.String("actor", actor))
	}
	copyFields := make(map[string]any, len(fields))
	maps.Copy(copyFields, fields)
	attrs = append(attrs, slog.Any("fields", copyFields))

	logger().InfoContext(ctx, "audit", attrs...)
	return nil
}
