// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the authenticated principal, its role, the request id and the
// request time; services read them without importing net/http.
//
//	principalID := requestcontext.PrincipalID(ctx)
//	role := requestcontext.Role(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithPrincipal(ctx, principalID, "faculty")
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "trustcert/pkg/domain"
)

type (
	principalIDKey struct{}
	usernameKey    struct{}
	roleKey        struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyPrincipalID = principalIDKey{}
	ContextKeyUsername    = usernameKey{}
	ContextKeyRole        = roleKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Principal
// -----------------------------------------------------------------------------

// PrincipalID retrieves the authenticated principal. Returns the nil UUID if unset.
func PrincipalID(ctx context.Context) id.PrincipalID {
	if pid, ok := ctx.Value(ContextKeyPrincipalID).(id.PrincipalID); ok {
		return pid
	}
	return id.PrincipalID{}
}

// Role retrieves the authenticated principal's role.
func Role(ctx context.Context) string {
	if role, ok := ctx.Value(ContextKeyRole).(string); ok {
		return role
	}
	return ""
}

// Username retrieves the authenticated principal's username, if the token carried one.
func Username(ctx context.Context) string {
	if name, ok := ctx.Value(ContextKeyUsername).(string); ok {
		return name
	}
	return ""
}

// WithPrincipal injects the authenticated principal and role.
func WithPrincipal(ctx context.Context, principalID id.PrincipalID, role string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyPrincipalID, principalID)
	return context.WithValue(ctx, ContextKeyRole, role)
}

// WithUsername injects the principal's username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, the sweeper, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
