package util

import (
	"context"
	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the id stored on ctx, or "" when there is none.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
func NewRequestID() string {
	return uuid.New().String()
}

// RequestIDFrom accepts a caller-supplied id only if it is a well-formed UUID,
// otherwise it mints a fresh one.
func RequestIDFrom(header string) string {
	if header != "" {
		if u, err := uuid.Parse(header); err == nil {
			return u.String()
		}
	}
	return NewRequestID()
}
