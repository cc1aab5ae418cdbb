package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcert/internal/certificate/approval"
	"trustcert/internal/certificate/models"
	"trustcert/internal/certificate/service"
	principal "trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/httputil"
	"trustcert/pkg/platform/middleware/auth"
	"trustcert/pkg/requestcontext"
)

// Service defines the certificate operations the HTTP layer needs.
type Service interface {
	Issue(ctx context.Context, in service.IssueInput) (*models.Certificate, error)
	Get(ctx context.Context, certID id.CertificateID, actor approval.Actor) (*models.Certificate, error)
	GetPublic(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	ListBySubject(ctx context.Context, subject string) ([]*models.Certificate, error)
	ListAll(ctx context.Context) ([]*models.Certificate, error)
	Delete(ctx context.Context, certID id.CertificateID, actor approval.Actor) error
	Reevaluate(ctx context.Context, certID id.CertificateID) (*service.Evaluation, error)
	Approve(ctx context.Context, certID id.CertificateID, kind models.Kind, actor approval.Actor) (models.Status, error)
	PendingApprovals(ctx context.Context, actor approval.Actor) ([]models.PendingApproval, error)
	ReleaseKey(ctx context.Context, certID id.CertificateID, actor approval.Actor) (string, error)
}

// Handler wires certificate, approval and public verification endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts certificate endpoints on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	issuers := auth.RequireRole(h.logger, principal.ApprovalRoles...)
	admins := auth.RequireRole(h.logger, principal.RoleAdmin)

	r.With(issuers).Post("/certificates", h.HandleIssue)
	r.With(admins).Get("/certificates", h.HandleListAll)
	r.Get("/certificates/{id}", h.HandleGet)
	r.With(admins).Delete("/certificates/{id}", h.HandleDelete)
	r.Get("/certificates/{id}/key", h.HandleReleaseKey)
	r.Post("/certificates/{id}/approve/{kind}", h.HandleApprove)
	r.Post("/certificates/{id}/reevaluate", h.HandleReevaluate)
	r.Get("/me/certificates", h.HandleListMine)
	r.Get("/approvals/pending", h.HandlePending)
}

// RegisterPublic mounts the unauthenticated verifier view.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/public/certificates/{id}", h.HandlePublic)
}

// HandleIssue handles POST /certificates.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cert, err := h.service.Issue(ctx, service.IssueInput{
		Title:      req.Title,
		Subject:    req.Subject,
		Conditions: req.Conditions(),
		PayloadRef: req.EncryptedPayloadRef,
		PayloadKey: req.PayloadKey,
		Issuer:     requestcontext.PrincipalID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate issue failed",
			"request_id", requestID,
			"subject", req.Subject,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate issued",
		"request_id", requestID,
		"certificate_id", cert.ID.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromCertificate(cert))
}

// HandleGet handles GET /certificates/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	cert, err := h.service.Get(ctx, certID, actorFrom(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCertificate(cert))
}

// HandlePublic handles GET /public/certificates/{id}.
func (h *Handler) HandlePublic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	cert, err := h.service.GetPublic(ctx, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCertificate(cert))
}

// HandleListMine handles GET /me/certificates.
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := requestcontext.Username(ctx)
	if username == "" {
		httputil.WriteJSON(w, http.StatusOK, FromCertificates(nil))
		return
	}
	certs, err := h.service.ListBySubject(ctx, username)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate list failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCertificates(certs))
}

// HandleListAll handles GET /certificates.
func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certs, err := h.service.ListAll(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate list failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCertificates(certs))
}

// HandleDelete handles DELETE /certificates/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(ctx, certID, actorFrom(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleReleaseKey handles GET /certificates/{id}/key.
func (h *Handler) HandleReleaseKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	key, err := h.service.ReleaseKey(ctx, certID, actorFrom(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "key release refused",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_id", certID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.service.GetPublic(ctx, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, KeyResponse{
		CertificateID:       certID.String(),
		EncryptedPayloadRef: cert.PayloadRef,
		PayloadKey:          key,
	})
}

// HandleApprove handles POST /certificates/{id}/approve/{kind}.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status, err := h.service.Approve(ctx, certID, kind, actorFrom(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ApproveResponse{Status: "success", CertStatus: string(status)})
}

// HandleReevaluate handles POST /certificates/{id}/reevaluate. Anyone who may
// view the certificate may ask for a re-evaluation.
func (h *Handler) HandleReevaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(ctx, certID, actorFrom(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Reevaluate(ctx, certID)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate re-evaluation failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_id", certID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEvaluation(res))
}

// HandlePending handles GET /approvals/pending.
func (h *Handler) HandlePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := h.service.PendingApprovals(ctx, actorFrom(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPending(pending))
}

func (h *Handler) certificateID(w http.ResponseWriter, r *http.Request) (id.CertificateID, bool) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid certificate id"))
		return id.CertificateID{}, false
	}
	return certID, true
}

func actorFrom(ctx context.Context) approval.Actor {
	return approval.Actor{
		ID:       requestcontext.PrincipalID(ctx),
		Username: requestcontext.Username(ctx),
		Role:     requestcontext.Role(ctx),
	}
}
