package ctxutil

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type principalKeyType struct{}
type traceKeyType struct{}

var (
	principalKey principalKeyType
	traceKey     traceKeyType
)

// Principal is the trusted identity attached by auth middleware. Handlers and
// services never read identity from request payloads.
type Principal struct {
	UserID      uuid.UUID
	TenantKey   string
	Username    string
	DisplayName string
	SessionKey  string
}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func WithTrace(ctx context.Context, t TraceData) context.Context {
	return context.WithValue(ctx, traceKey, t)
}

func GetTrace(ctx context.Context) (TraceData, bool) {
	t, ok := ctx.Value(traceKey).(TraceData)
	return t, ok
}

// Default returns a background context with a short timeout for jobs that run
// outside any request.
func Default() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
