// Package httptransport assembles the HTTP surface: shared middleware,
// health and metrics endpoints, and each module's routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustcert/internal/platform/metrics"
	"trustcert/pkg/platform/httputil"
	"trustcert/pkg/platform/middleware/auth"
	"trustcert/pkg/platform/middleware/request"
	"trustcert/pkg/platform/middleware/requesttime"
)

// Registrar mounts routes that require an authenticated principal.
type Registrar interface {
	Register(r chi.Router)
}

// PublicRegistrar mounts routes reachable without a token.
type PublicRegistrar interface {
	RegisterPublic(r chi.Router)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger    *slog.Logger
	Validator auth.JWTValidator
	Metrics   *metrics.Metrics
	Checks    map[string]HealthCheck
	Public    []PublicRegistrar
	Protected []Registrar
}

func NewRouter(cfg Config) chi.Router {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/health", healthHandler(cfg.Checks))
	r.Handle("/metrics", promhttp.Handler())
	for _, p := range cfg.Public {
		p.RegisterPublic(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(cfg.Validator, cfg.Logger))
		for _, p := range cfg.Protected {
			p.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
