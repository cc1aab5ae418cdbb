package testutil

import (
	"net/http"
	"time"

	id "trustcert/pkg/domain"
	"trustcert/pkg/requestcontext"
)

// WithPrincipal adds an authenticated principal and role to the request
// context, as the auth middleware would.
func WithPrincipal(req *http.Request, principalID id.PrincipalID, role string) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), principalID, role)
	return req.WithContext(ctx)
}

// WithNamedPrincipal is WithPrincipal plus the username claim.
func WithNamedPrincipal(req *http.Request, principalID id.PrincipalID, username, role string) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), principalID, role)
	ctx = requestcontext.WithUsername(ctx, username)
	return req.WithContext(ctx)
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
