package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeyEmailIndex contextKey = "email_index"
	ContextKeyPartIndex  contextKey = "part_index"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithEmailIndex tags the context with the mailbox sequence number being processed
func WithEmailIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, ContextKeyEmailIndex, index)
}

// EmailIndexFromContext returns the email index, or -1 when unset
func EmailIndexFromContext(ctx context.Context) int {
	if i, ok := ctx.Value(ContextKeyEmailIndex).(int); ok {
		return i
	}
	return -1
}

// WithPartIndex tags the context with the part currently being merged/normalized
func WithPartIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, ContextKeyPartIndex, index)
}

// PartIndexFromContext returns the part index, or -1 when unset
func PartIndexFromContext(ctx context.Context) int {
	if i, ok := ctx.Value(ContextKeyPartIndex).(int); ok {
		return i
	}
	return -1
}

// LogAttrs returns the identifying attributes carried by ctx, for use with logger.With.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("req_id", id))
	}
	if i := EmailIndexFromContext(ctx); i >= 0 {
		attrs = append(attrs, slog.Int("email_index", i))
	}
	if i := PartIndexFromContext(ctx); i >= 0 {
		attrs = append(attrs, slog.Int("part_index", i))
	}
	return attrs
}
