package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/httputil"
	"trustcert/pkg/requestcontext"
)

type Service interface {
	FindByID(ctx context.Context, principalID id.PrincipalID) (*models.Principal, error)
	FindByUsername(ctx context.Context, username string) (*models.Principal, error)
	ListByRole(ctx context.Context, role string) ([]*models.Principal, error)
}

// TokenIssuer signs access tokens for the development login endpoint.
type TokenIssuer interface {
	GenerateAccessToken(principalID id.PrincipalID, username, role string, expiresIn time.Duration) (string, error)
}

type Handler struct {
	service  Service
	logger   *slog.Logger
	issuer   TokenIssuer
	tokenTTL time.Duration
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// WithDevLogin enables POST /dev/token. Never enable it in production.
func (h *Handler) WithDevLogin(issuer TokenIssuer, ttl time.Duration) *Handler {
	h.issuer = issuer
	h.tokenTTL = ttl
	return h
}

// Register mounts authenticated principal endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/me", h.HandleMe)
	r.Get("/principals", h.HandleListByRole)
}

// RegisterPublic mounts unauthenticated endpoints.
func (h *Handler) RegisterPublic(r chi.Router) {
	if h.issuer != nil {
		r.Post("/dev/token", h.HandleDevToken)
	}
}

type PrincipalResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func toResponse(p *models.Principal) PrincipalResponse {
	return PrincipalResponse{ID: p.ID.String(), Username: p.Username, Role: p.Role}
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.service.FindByID(ctx, requestcontext.PrincipalID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(p))
}

// HandleListByRole handles GET /principals?role=faculty, used to pick a
// targeted approver.
func (h *Handler) HandleListByRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	role := strings.ToLower(r.URL.Query().Get("role"))
	if role == "" {
		role = models.RoleFaculty
	}
	principals, err := h.service.ListByRole(ctx, role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]PrincipalResponse, 0, len(principals))
	for _, p := range principals {
		out = append(out, toResponse(p))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"principals": out})
}

type DevTokenRequest struct {
	Username string `json:"username"`
}

func (r *DevTokenRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	return nil
}

type DevTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Role        string `json:"role"`
}

func (h *Handler) HandleDevToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[DevTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	p, err := h.service.FindByUsername(ctx, req.Username)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			err = dErrors.New(dErrors.CodeUnauthorized, "unknown principal")
		}
		httputil.WriteError(w, err)
		return
	}
	token, err := h.issuer.GenerateAccessToken(p.ID, p.Username, p.Role, h.tokenTTL)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to sign dev token", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token"))
		return
	}
	h.logger.WarnContext(ctx, "issued development token",
		"request_id", requestID,
		"username", p.Username,
	)
	httputil.WriteJSON(w, http.StatusOK, DevTokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokenTTL.Seconds()),
		Role:        p.Role,
	})
}
