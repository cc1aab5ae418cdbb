package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcert/internal/ledger/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/httputil"
	"trustcert/pkg/platform/middleware/auth"
	strs "trustcert/pkg/platform/strings"
	"trustcert/pkg/requestcontext"
)

// Service defines the ledger operations the HTTP layer needs.
type Service interface {
	Append(ctx context.Context, key models.ChainKey, value string, issuer id.PrincipalID) (*models.RecordVersion, error)
	ListBySubject(ctx context.Context, subject string) ([]*models.RecordVersion, error)
	Verify(ctx context.Context, key models.ChainKey) (models.VerifyResult, error)
}

// Handler wires record ledger endpoints to the ledger service.
type Handler struct {
	service     Service
	logger      *slog.Logger
	issuerRoles []string
}

// New constructs a ledger handler. issuerRoles may append records and read
// any subject's records; other principals only read their own.
func New(service Service, logger *slog.Logger, issuerRoles ...string) *Handler {
	return &Handler{service: service, logger: logger, issuerRoles: strs.DedupeAndTrimLower(issuerRoles)}
}

// Register mounts ledger endpoints on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	r.With(auth.RequireRole(h.logger, h.issuerRoles...)).Post("/records", h.HandleAppend)
	r.Get("/records/{subject}", h.HandleList)
	r.Get("/records/{subject}/{category}/verify", h.HandleVerify)
}

// HandleAppend handles POST /records.
func (h *Handler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[AppendRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.service.Append(ctx, req.Key(), req.Value, requestcontext.PrincipalID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "record append failed",
			"request_id", requestID,
			"subject", req.Subject,
			"category", req.Category,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "record appended",
		"request_id", requestID,
		"subject", rec.Subject,
		"category", rec.Category,
		"sequence", rec.Sequence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromRecord(rec))
}

// HandleList handles GET /records/{subject}.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := chi.URLParam(r, "subject")
	if !h.canRead(ctx, subject) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "records of another subject"))
		return
	}

	recs, err := h.service.ListBySubject(ctx, subject)
	if err != nil {
		h.logger.ErrorContext(ctx, "record list failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject", subject,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecords(subject, recs))
}

// HandleVerify handles GET /records/{subject}/{category}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := models.ChainKey{Subject: chi.URLParam(r, "subject"), Category: chi.URLParam(r, "category")}
	if !h.canRead(ctx, key.Subject) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "records of another subject"))
		return
	}

	res, err := h.service.Verify(ctx, key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerify(key, res))
}

func (h *Handler) canRead(ctx context.Context, subject string) bool {
	if slices.Contains(h.issuerRoles, requestcontext.Role(ctx)) {
		return true
	}
	username := requestcontext.Username(ctx)
	return username != "" && username == subject
}
