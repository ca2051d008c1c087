package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stores logger for FromContext.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or the default logger outside a
// request.
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithAuth decorates the request logger with the authenticated principal so
// every later log line carries it.
func WithAuth(ctx context.Context, userID, sessionID, role string) context.Context {
	l := FromContext(ctx).With("user_id", userID, "role", role)
	if sessionID != "" {
		l = l.With("sid", sessionID)
	}
	return WithContext(ctx, l)
}
