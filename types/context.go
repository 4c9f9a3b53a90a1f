package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keySessionID contextKey = "session_id"
	keyTurnID    contextKey = "turn_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithSessionID adds session ID to context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID extracts session ID from context.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok && v != ""
}

// WithTurnID adds turn ID to context.
func WithTurnID(ctx context.Context, turnID uint64) context.Context {
	return context.WithValue(ctx, keyTurnID, turnID)
}

// TurnID extracts turn ID from context.
func TurnID(ctx context.Context) (uint64, bool) {
	v, ok := ctx.Value(keyTurnID).(uint64)
	return v, ok && v != 0
}
