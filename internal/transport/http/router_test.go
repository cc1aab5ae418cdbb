package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/middleware/auth"
	"trustcert/pkg/platform/middleware/request"
	"trustcert/pkg/requestcontext"
	"trustcert/pkg/testutil"
)

type staticValidator struct{ claims *auth.JWTClaims }

func (v staticValidator) ValidateToken(token string) (*auth.JWTClaims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return v.claims, nil
}

type whoami struct{}

func (whoami) Register(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(requestcontext.Username(r.Context())))
	})
}

type ping struct{}

func (ping) RegisterPublic(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newRouter(checks map[string]HealthCheck) chi.Router {
	return NewRouter(Config{
		Logger: slog.Default(),
		Validator: staticValidator{claims: &auth.JWTClaims{
			PrincipalID: id.PrincipalID(uuid.New()),
			Username:    "alice",
			Role:        "student",
		}},
		Checks:    checks,
		Public:    []PublicRegistrar{ping{}},
		Protected: []Registrar{whoami{}},
	})
}

func TestRouter_Auth(t *testing.T) {
	r := newRouter(nil)

	t.Run("public routes need no token", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/ping"))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
		assert.NotEmpty(t, rr.Header().Get(request.HeaderRequestID))
	})

	t.Run("protected routes reject missing token", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/whoami"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("protected routes see the principal", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/whoami")
		req.Header.Set("Authorization", "Bearer good")
		rr := testutil.DoRequest(r, req)
		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, "alice", rr.Body.String())
	})
}

func TestRouter_Health(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		r := newRouter(map[string]HealthCheck{"db": func(context.Context) error { return nil }})
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	t.Run("failing check degrades", func(t *testing.T) {
		r := newRouter(map[string]HealthCheck{
			"db":    func(context.Context) error { return nil },
			"redis": func(context.Context) error { return errors.New("connection refused") },
		})
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[healthResponse](t, rr)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["redis"])
		assert.Equal(t, "ok", resp.Checks["db"])
	})
}
