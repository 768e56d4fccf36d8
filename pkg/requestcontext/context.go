// Package requestcontext carries request-scoped values (end-user token, client
// metadata, request id, request time) from HTTP middleware to services
// without services importing net/http.
//
// Middleware sets values:
//
//	ctx = requestcontext.WithRequestID(ctx, id)
//	ctx = requestcontext.WithUserToken(ctx, token)
//
// Services and tests read them:
//
//	token := requestcontext.UserToken(ctx)
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"
)

type (
	userTokenKey   struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

func value[T any](ctx context.Context, key any) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func stringValue(ctx context.Context, key any) string {
	s, _ := value[string](ctx, key)
	return s
}

// UserToken is the end-user bearer token without its "Bearer " prefix.
func UserToken(ctx context.Context) string {
	return stringValue(ctx, userTokenKey{})
}

func WithUserToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, userTokenKey{}, token)
}

// ClientIP is the caller address as resolved behind proxies.
func ClientIP(ctx context.Context) string {
	return stringValue(ctx, clientIPKey{})
}

func UserAgent(ctx context.Context) string {
	return stringValue(ctx, userAgentKey{})
}

// WithClientMetadata stores the caller IP and User-Agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey{})
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestTime reports the time captured when the request arrived, if any.
func RequestTime(ctx context.Context) (time.Time, bool) {
	t, ok := value[time.Time](ctx, requestTimeKey{})
	return t, ok && !t.IsZero()
}

// Now is the request time, or the wall clock outside a request.
func Now(ctx context.Context) time.Time {
	if t, ok := RequestTime(ctx); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
