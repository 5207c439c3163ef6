package logger

import (
	"context"

	"github.com/google/uuid"
)

type key int

const correlationKey key = 0

func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// EnsureCorrelationID returns ctx unchanged if it already carries an ID,
// otherwise a child context with a fresh one.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(correlationKey).(string); ok {
		return ctx
	}
	return WithCorrelationID(ctx, uuid.New().String())
}
