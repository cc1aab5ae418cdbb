package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcert/internal/vault/models"
	"trustcert/internal/vault/service"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/httputil"
	"trustcert/pkg/requestcontext"
)

type Service interface {
	Store(ctx context.Context, in service.StoreInput) (*models.Vault, error)
	Release(ctx context.Context, appID uint64, actor id.PrincipalID) (string, error)
	ListByOwner(ctx context.Context, owner id.PrincipalID) ([]*models.Vault, error)
	Delete(ctx context.Context, appID uint64, actor id.PrincipalID) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/vaults", h.HandleStore)
	r.Get("/vaults/{app_id}/release", h.HandleRelease)
	r.Get("/me/vaults", h.HandleListMine)
	r.Delete("/vaults/{app_id}", h.HandleDelete)
}

// HandleStore handles POST /vaults.
func (h *Handler) HandleStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[StoreRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	v, err := h.service.Store(ctx, service.StoreInput{
		AppID:       req.AppID,
		PayloadRef:  req.PayloadRef,
		Filename:    req.Filename,
		Beneficiary: req.Beneficiary,
		Key:         req.Key,
		UnlockTime:  req.UnlockAt(),
		Owner:       requestcontext.PrincipalID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "vault store failed",
			"request_id", requestID,
			"app_id", req.AppID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "vault stored",
		"request_id", requestID,
		"app_id", v.AppID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromVault(v))
}

// HandleRelease handles GET /vaults/{app_id}/release.
func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := h.appID(w, r)
	if !ok {
		return
	}
	key, err := h.service.Release(ctx, appID, requestcontext.PrincipalID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "vault release refused",
			"request_id", requestcontext.RequestID(ctx),
			"app_id", appID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ReleaseResponse{Status: "unlocked", Key: key})
}

// HandleListMine handles GET /me/vaults.
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vaults, err := h.service.ListByOwner(ctx, requestcontext.PrincipalID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVaults(vaults))
}

// HandleDelete handles DELETE /vaults/{app_id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := h.appID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(ctx, appID, requestcontext.PrincipalID(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) appID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	appID, err := strconv.ParseUint(chi.URLParam(r, "app_id"), 10, 64)
	if err != nil || appID == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid app id"))
		return 0, false
	}
	return appID, true
}
