// Package service is the release state machine. It owns every mutation of a
// certificate: issuance, re-evaluation against the ledger and clock, approval,
// and key release once UNLOCKED.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustcert/internal/certificate/approval"
	"trustcert/internal/certificate/compiler"
	"trustcert/internal/certificate/metrics"
	"trustcert/internal/certificate/models"
	ledger "trustcert/internal/ledger/models"
	principal "trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/sentinel"
	"trustcert/pkg/platform/shardlock"
	"trustcert/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, cert *models.Certificate) error
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	FindByIDForUpdate(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	Update(ctx context.Context, cert *models.Certificate) error
	ListBySubject(ctx context.Context, subject string) ([]*models.Certificate, error)
	ListAll(ctx context.Context) ([]*models.Certificate, error)
	ListWithPendingApprovals(ctx context.Context) ([]*models.Certificate, error)
	ListLockedIDs(ctx context.Context) ([]id.CertificateID, error)
	ListLockedIDsBySubject(ctx context.Context, subject string) ([]id.CertificateID, error)
	Delete(ctx context.Context, certID id.CertificateID) error
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Compiler turns issuer input into condition specs.
type Compiler interface {
	Compile(ctx context.Context, in compiler.Input) ([]models.Spec, error)
}

// Ledger is the read side of the record ledger.
type Ledger interface {
	Chain(ctx context.Context, key ledger.ChainKey) ([]*ledger.RecordVersion, error)
}

type SubjectDirectory interface {
	SubjectExists(ctx context.Context, subject string) (bool, error)
}

// KeySealer protects payload keys at rest.
type KeySealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	tx             *certificateTx
	compiler       Compiler
	ledger         Ledger
	sealer         KeySealer
	subjects       SubjectDirectory
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	fanOut         int
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

// WithSubjectDirectory rejects certificates for unknown subjects.
func WithSubjectDirectory(d SubjectDirectory) Option {
	return func(s *Service) {
		s.subjects = d
	}
}

// WithTxTimeout bounds a mutation, including the wait for its certificate
// lock, when the caller's context carries no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.tx.timeout = d
	}
}

// WithFanOut caps concurrent re-evaluations in subject and sweep passes.
func WithFanOut(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

func New(store Store, conditions Compiler, records Ledger, sealer KeySealer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		tx:       &certificateTx{store: store, shards: shardlock.New(numCertificateShards)},
		compiler: conditions,
		ledger:   records,
		sealer:   sealer,
		logger:   slog.Default(),
		tracer:   otel.Tracer("trustcert/certificate"),
		fanOut:   4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueInput is everything an issuer supplies for a new certificate.
// PayloadKey is plaintext here and sealed before it is stored.
type IssueInput struct {
	Title      string
	Subject    string
	Conditions compiler.Input
	PayloadRef string
	PayloadKey string
	Issuer     id.PrincipalID
}

// Issue compiles the condition input and stores a LOCKED certificate.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*models.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Issue", trace.WithAttributes(
		attribute.String("certificate.subject", in.Subject),
	))
	defer span.End()

	cert, err := s.issue(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("certificate.id", cert.ID.String()))

	s.metrics.IncrementIssued()
	s.logger.InfoContext(ctx, "certificate issued",
		"certificate_id", cert.ID.String(),
		"subject", cert.Subject,
		"conditions", len(cert.Conditions),
		"request_id", requestcontext.RequestID(ctx),
	)
	return cert, nil
}

func (s *Service) issue(ctx context.Context, in IssueInput) (*models.Certificate, error) {
	if in.Issuer.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "issuer is required")
	}
	if in.PayloadKey == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "payload_key is required")
	}
	if s.subjects != nil && in.Subject != "" {
		ok, err := s.subjects.SubjectExists(ctx, in.Subject)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve subject")
		}
		if !ok {
			return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
	}

	specs, err := s.compiler.Compile(ctx, in.Conditions)
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(in.PayloadKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal payload key")
	}

	cert, err := models.NewCertificate(id.CertificateID(uuid.New()), in.Title, in.Subject, in.Issuer,
		specs, in.PayloadRef, sealed, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, cert.ID, func(ctx context.Context) error {
		if err := s.record(ctx, audit.EventCertificateCreated, in.Issuer, cert.ID.String(), cert.Subject); err != nil {
			return err
		}
		if err := s.store.Create(ctx, cert); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "certificate already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save certificate")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// Get returns a certificate the actor may see: its subject, its issuer, or
// any approval-capable principal.
func (s *Service) Get(ctx context.Context, certID id.CertificateID, actor approval.Actor) (*models.Certificate, error) {
	cert, err := s.find(ctx, certID)
	if err != nil {
		return nil, err
	}
	if !canView(cert, actor) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not permitted to view this certificate")
	}
	return cert, nil
}

// GetPublic returns a certificate for unauthenticated verifiers. Callers must
// not expose PayloadKey.
func (s *Service) GetPublic(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	return s.find(ctx, certID)
}

// ListBySubject returns the subject's certificates newest first.
func (s *Service) ListBySubject(ctx context.Context, subject string) ([]*models.Certificate, error) {
	certs, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*models.Certificate, error) {
	certs, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}

// Delete removes a certificate and its conditions. Ledger records about the
// subject are untouched.
func (s *Service) Delete(ctx context.Context, certID id.CertificateID, actor approval.Actor) error {
	err := s.tx.RunInTx(ctx, certID, func(ctx context.Context) error {
		if _, err := s.store.FindByIDForUpdate(ctx, certID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "certificate not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
		}
		if err := s.record(ctx, audit.EventCertificateDeleted, actor.ID, certID.String(), ""); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, certID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "certificate not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete certificate")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.IncrementDeleted()
	s.logger.InfoContext(ctx, "certificate deleted",
		"certificate_id", certID.String(),
		"actor", actor.Username,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// ReleaseKey returns the plaintext payload key of an UNLOCKED certificate to
// its subject or issuer. The release is audited fail-closed: no audit record,
// no key.
func (s *Service) ReleaseKey(ctx context.Context, certID id.CertificateID, actor approval.Actor) (string, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.ReleaseKey", trace.WithAttributes(
		attribute.String("certificate.id", certID.String()),
	))
	defer span.End()

	cert, err := s.find(ctx, certID)
	if err != nil {
		return "", err
	}
	if actor.Username != cert.Subject && actor.ID != cert.Issuer {
		return "", dErrors.New(dErrors.CodeForbidden, "not permitted to release this key")
	}
	if !cert.IsUnlocked() {
		return "", dErrors.New(dErrors.CodeForbidden, "certificate is locked")
	}
	key, err := s.sealer.Open(cert.PayloadKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unseal failed")
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to unseal payload key")
	}
	if err := s.record(ctx, audit.EventKeyReleased, actor.ID, cert.ID.String(), ""); err != nil {
		return "", err
	}
	s.metrics.IncrementKeyRelease()
	s.logger.InfoContext(ctx, "payload key released",
		"certificate_id", cert.ID.String(),
		"actor", actor.Username,
		"request_id", requestcontext.RequestID(ctx),
	)
	return key, nil
}

func (s *Service) find(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	cert, err := s.store.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}

func canView(cert *models.Certificate, actor approval.Actor) bool {
	return actor.Username == cert.Subject ||
		actor.ID == cert.Issuer ||
		principal.IsApprovalRole(actor.Role)
}

// record writes a compliance event. Mutations call it inside their
// transaction, before the write it describes, and abort when it fails.
func (s *Service) record(ctx context.Context, action audit.AuditEvent, actor id.PrincipalID, subject, reason string) error {
	if s.auditPublisher == nil {
		return nil
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		ActorID:   actor,
		Subject:   subject,
		Action:    string(action),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, string(action)+" could not be audited")
	}
	return nil
}
