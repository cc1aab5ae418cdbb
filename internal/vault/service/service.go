// Package service escrows vault keys and releases them once the on-chain
// application reports itself unlocked, or, when the chain cannot be asked,
// once the stored unlock time has passed.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustcert/internal/vault/metrics"
	"trustcert/internal/vault/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/sentinel"
	"trustcert/pkg/requestcontext"
)

const defaultOracleTimeout = 3 * time.Second

type Store interface {
	Create(ctx context.Context, v *models.Vault) error
	FindByAppID(ctx context.Context, appID uint64) (*models.Vault, error)
	MarkUnlocked(ctx context.Context, appID uint64) error
	ListByOwner(ctx context.Context, owner id.PrincipalID) ([]*models.Vault, error)
	Delete(ctx context.Context, appID uint64) error
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Oracle answers whether the chain has released an application.
type Oracle interface {
	IsUnlocked(ctx context.Context, appID uint64) (bool, error)
}

type KeySealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	sealer         KeySealer
	oracle         Oracle
	oracleTimeout  time.Duration
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

// WithOracle enables on-chain release checks. Without one, release is
// decided by the unlock time alone.
func WithOracle(o Oracle) Option {
	return func(s *Service) {
		s.oracle = o
	}
}

func WithOracleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.oracleTimeout = d
		}
	}
}

func New(store Store, sealer KeySealer, opts ...Option) *Service {
	s := &Service{
		store:         store,
		sealer:        sealer,
		oracleTimeout: defaultOracleTimeout,
		logger:        slog.Default(),
		tracer:        otel.Tracer("trustcert/vault"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreInput is the escrow request. Key is plaintext here and sealed before
// it is persisted.
type StoreInput struct {
	AppID       uint64
	PayloadRef  string
	Filename    string
	Beneficiary string
	Key         string
	UnlockTime  time.Time
	Owner       id.PrincipalID
}

// Store escrows a key against an application id. Each application id can be
// registered once.
func (s *Service) Store(ctx context.Context, in StoreInput) (*models.Vault, error) {
	if in.Key == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "key is required")
	}
	sealed, err := s.sealer.Seal(in.Key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal vault key")
	}
	v, err := models.NewVault(in.AppID, in.Owner, in.PayloadRef, in.Filename, in.Beneficiary,
		sealed, in.UnlockTime, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.record(ctx, audit.EventVaultStored, in.Owner, v.AppID, ""); err != nil {
			return err
		}
		if err := s.store.Create(ctx, v); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "vault id already registered")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save vault")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementStored()
	s.logger.InfoContext(ctx, "vault key escrowed",
		"app_id", v.AppID,
		"owner", v.Owner.String(),
		"unlock_time", v.UnlockTime,
		"request_id", requestcontext.RequestID(ctx),
	)
	return v, nil
}

// Release returns the plaintext key once the vault may open. The first
// successful release records the vault as UNLOCKED for good. Releases are
// audited fail-closed.
func (s *Service) Release(ctx context.Context, appID uint64, actor id.PrincipalID) (string, error) {
	ctx, span := s.tracer.Start(ctx, "vault.Release", trace.WithAttributes(
		attribute.Int64("vault.app_id", int64(appID)),
	))
	defer span.End()

	v, err := s.find(ctx, appID)
	if err != nil {
		return "", err
	}

	decidedBy, open := s.decide(ctx, v)
	span.SetAttributes(attribute.String("vault.decided_by", decidedBy))
	if !open {
		s.metrics.IncrementRefused()
		return "", dErrors.New(dErrors.CodeForbidden, "vault is locked")
	}

	key, err := s.sealer.Open(v.SealedKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unseal failed")
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to unseal vault key")
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.record(ctx, audit.EventVaultReleased, actor, appID, decidedBy); err != nil {
			return err
		}
		if v.IsUnlocked() {
			return nil
		}
		if err := s.store.MarkUnlocked(ctx, appID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record vault unlock")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return "", err
	}

	s.metrics.IncrementReleased(decidedBy)
	s.logger.InfoContext(ctx, "vault key released",
		"app_id", appID,
		"decided_by", decidedBy,
		"request_id", requestcontext.RequestID(ctx),
	)
	return key, nil
}

// decide reports whether the vault may open and what said so. A recorded
// unlock is final. A chain answer is authoritative when one arrives in time;
// otherwise the stored unlock time decides.
func (s *Service) decide(ctx context.Context, v *models.Vault) (string, bool) {
	if v.IsUnlocked() {
		return "recorded", true
	}
	if s.oracle != nil {
		oracleCtx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
		unlocked, err := s.oracle.IsUnlocked(oracleCtx, v.AppID)
		cancel()
		if err == nil {
			return "chain", unlocked
		}
		s.logger.WarnContext(ctx, "oracle unavailable, falling back to unlock time",
			"app_id", v.AppID,
			"error", err,
		)
	}
	return "clock", v.TimeElapsed(requestcontext.Now(ctx))
}

// ListByOwner returns the owner's vaults newest first.
func (s *Service) ListByOwner(ctx context.Context, owner id.PrincipalID) ([]*models.Vault, error) {
	vaults, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list vaults")
	}
	return vaults, nil
}

// Delete removes a vault. Only its owner may.
func (s *Service) Delete(ctx context.Context, appID uint64, actor id.PrincipalID) error {
	v, err := s.find(ctx, appID)
	if err != nil {
		return err
	}
	if v.Owner != actor {
		return dErrors.New(dErrors.CodeForbidden, "not authorized to delete this vault")
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.record(ctx, audit.EventVaultDeleted, actor, appID, ""); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, appID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "vault not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete vault")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.IncrementDeleted()
	s.logger.InfoContext(ctx, "vault deleted",
		"app_id", appID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

func (s *Service) find(ctx context.Context, appID uint64) (*models.Vault, error) {
	v, err := s.store.FindByAppID(ctx, appID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "vault not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load vault")
	}
	return v, nil
}

// record writes a compliance event inside the caller's transaction. A
// failure aborts the change it describes.
func (s *Service) record(ctx context.Context, action audit.AuditEvent, actor id.PrincipalID, appID uint64, reason string) error {
	if s.auditPublisher == nil {
		return nil
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		ActorID:   actor,
		Subject:   vaultSubject(appID),
		Action:    string(action),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, string(action)+" could not be audited")
	}
	return nil
}

func vaultSubject(appID uint64) string {
	return "vault:" + strconv.FormatUint(appID, 10)
}
