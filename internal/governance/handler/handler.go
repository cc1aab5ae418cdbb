package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcert/internal/governance/models"
	"trustcert/internal/governance/service"
	principal "trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/httputil"
	"trustcert/pkg/platform/middleware/auth"
	"trustcert/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, in service.CreateInput) (*models.Policy, error)
	List(ctx context.Context) ([]*models.Policy, error)
	Update(ctx context.Context, policyID id.PolicyID, u models.Update, actor id.PrincipalID) (*models.Policy, error)
	Freeze(ctx context.Context, policyID id.PolicyID, actor id.PrincipalID) (*models.Policy, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the admin-only governance endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/governance/policies", func(r chi.Router) {
		r.Use(auth.RequireRole(h.logger, principal.RoleAdmin))
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Patch("/{id}", h.HandleUpdate)
		r.Post("/{id}/freeze", h.HandleFreeze)
	})
}

type PolicyResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	ActivationDate time.Time `json:"activation_date"`
	Active         bool      `json:"is_active"`
	Frozen         bool      `json:"is_frozen"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type PolicyListResponse struct {
	Policies []PolicyResponse `json:"policies"`
}

func FromPolicy(p *models.Policy) PolicyResponse {
	return PolicyResponse{
		ID:             p.ID.String(),
		Name:           p.Name,
		Description:    p.Description,
		ActivationDate: p.ActivationDate,
		Active:         p.Active,
		Frozen:         p.Frozen,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// HandleCreate handles POST /governance/policies.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreatePolicyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	p, err := h.service.Create(ctx, service.CreateInput{
		Name:           req.Name,
		Description:    req.Description,
		ActivationDate: req.activation,
		Actor:          requestcontext.PrincipalID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "policy create failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromPolicy(p))
}

// HandleList handles GET /governance/policies.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := PolicyListResponse{Policies: make([]PolicyResponse, 0, len(policies))}
	for _, p := range policies {
		out.Policies = append(out.Policies, FromPolicy(p))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleUpdate handles PATCH /governance/policies/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	policyID, ok := policyIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdatePolicyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	p, err := h.service.Update(ctx, policyID, req.Update(), requestcontext.PrincipalID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPolicy(p))
}

// HandleFreeze handles POST /governance/policies/{id}/freeze.
func (h *Handler) HandleFreeze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID, ok := policyIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.service.Freeze(ctx, policyID, requestcontext.PrincipalID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPolicy(p))
}

func policyIDParam(w http.ResponseWriter, r *http.Request) (id.PolicyID, bool) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid policy id"))
		return id.PolicyID{}, false
	}
	return policyID, true
}
