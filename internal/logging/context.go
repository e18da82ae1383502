package logging

import (
	"context"
	"log/slog"
)

type ctxKey string

const (
	loggerKey    ctxKey = "logger"
	requestIDKey ctxKey = "requestID"
	traceIDKey   ctxKey = "traceID"
	spanIDKey    ctxKey = "spanID"
	userIDKey    ctxKey = "userID"
)

// WithLogger stores the provided logger on the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the request-scoped logger or falls back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

// WithUser records the acting user on the context and adds a user_id
// attribute to its logger. Spans started below inherit the attribute.
func WithUser(ctx context.Context, userID string) context.Context {
	if ctx == nil || userID == "" {
		return ctx
	}
	ctx = WithUserID(ctx, userID)
	return WithLogger(ctx, FromContext(ctx).With(slog.String("user_id", userID)))
}

// WithFriendRequest scopes the logger to a single friend request.
// The attribute is friend_request_id so it never shadows the HTTP request_id.
func WithFriendRequest(ctx context.Context, friendRequestID string) (context.Context, *slog.Logger) {
	logger := FromContext(ctx)
	if ctx == nil || friendRequestID == "" {
		return ctx, logger
	}
	logger = logger.With(slog.String("friend_request_id", friendRequestID))
	return WithLogger(ctx, logger), logger
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string { return stringFrom(ctx, requestIDKey) }

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withString(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string { return stringFrom(ctx, traceIDKey) }

func WithSpanID(ctx context.Context, spanID string) context.Context {
	return withString(ctx, spanIDKey, spanID)
}

func SpanIDFromContext(ctx context.Context) string { return stringFrom(ctx, spanIDKey) }

// WithUserID stores the acting user id without touching the logger.
// Most callers want WithUser.
func WithUserID(ctx context.Context, userID string) context.Context {
	return withString(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) string { return stringFrom(ctx, userIDKey) }

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil || value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
