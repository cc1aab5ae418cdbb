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

	"trustcert/internal/ledger/metrics"
	"trustcert/internal/ledger/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/sentinel"
	"trustcert/pkg/requestcontext"
)

type Store interface {
	Append(ctx context.Context, rec *models.RecordVersion) error
	Latest(ctx context.Context, key models.ChainKey) (*models.RecordVersion, error)
	Chain(ctx context.Context, key models.ChainKey) ([]*models.RecordVersion, error)
	ListBySubject(ctx context.Context, subject string) ([]*models.RecordVersion, error)
}

// Notifier is told about every successful append. Implementations must not
// block on re-evaluation.
type Notifier interface {
	RecordAppended(ctx context.Context, event models.RecordAppended)
}

// SubjectDirectory tells whether a subject is a known principal.
type SubjectDirectory interface {
	SubjectExists(ctx context.Context, subject string) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the record ledger: append-only hash chains per (subject, category).
type Service struct {
	store          Store
	locks          *chainLocks
	notifier       Notifier
	auditPublisher AuditPublisher
	subjects       SubjectDirectory
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

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

// WithSubjectDirectory rejects appends for subjects the directory does not know.
func WithSubjectDirectory(d SubjectDirectory) Option {
	return func(s *Service) {
		s.subjects = d
	}
}

// WithAppendTimeout bounds an append, including the wait for its chain lock,
// when the caller's context carries no deadline.
func WithAppendTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.locks.timeout = d
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locks:  newChainLocks(),
		logger: slog.Default(),
		tracer: otel.Tracer("trustcert/ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds value as the newest record of (subject, category). A concurrent
// writer that moved the head first yields CodeConflict; callers retry.
func (s *Service) Append(ctx context.Context, key models.ChainKey, value string, issuer id.PrincipalID) (*models.RecordVersion, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Append", trace.WithAttributes(
		attribute.String("ledger.subject", key.Subject),
		attribute.String("ledger.category", key.Category),
	))
	defer span.End()
	start := time.Now()

	if err := models.ValidateAppend(key, value); err != nil {
		return nil, err
	}
	if issuer.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "issuer is required")
	}
	if s.subjects != nil {
		ok, err := s.subjects.SubjectExists(ctx, key.Subject)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve subject")
		}
		if !ok {
			return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
	}

	var rec *models.RecordVersion
	err := s.locks.withChain(ctx, key, func(ctx context.Context) error {
		head, err := s.store.Latest(ctx, key)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain head")
		}
		rec, err = models.NewRecordVersion(id.RecordID(uuid.New()), key, value, issuer, requestcontext.Now(ctx), head)
		if err != nil {
			return err
		}
		if err := s.store.Append(ctx, rec); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				s.metrics.IncrementConflict()
				return dErrors.Wrap(err, dErrors.CodeConflict, "chain head moved during append; retry")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append record")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.logger.WarnContext(ctx, "ledger append conflict",
				"subject", key.Subject,
				"category", key.Category,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}

	s.metrics.IncrementAppend(key.Category)
	s.metrics.ObserveAppendLatency(time.Since(start))
	s.logger.InfoContext(ctx, "record appended",
		"subject", key.Subject,
		"category", key.Category,
		"sequence", rec.Sequence,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emitAudit(ctx, rec)
	if s.notifier != nil {
		s.notifier.RecordAppended(ctx, rec.Appended())
	}
	return rec, nil
}

// Latest returns the newest record of a chain.
func (s *Service) Latest(ctx context.Context, key models.ChainKey) (*models.RecordVersion, error) {
	rec, err := s.store.Latest(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no records for subject and category")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain head")
	}
	return rec, nil
}

// Chain returns a chain oldest first; empty when nothing was recorded.
func (s *Service) Chain(ctx context.Context, key models.ChainKey) ([]*models.RecordVersion, error) {
	chain, err := s.store.Chain(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain")
	}
	return chain, nil
}

func (s *Service) ListBySubject(ctx context.Context, subject string) ([]*models.RecordVersion, error) {
	recs, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list records")
	}
	return recs, nil
}

// Verify re-walks a chain and reports the first broken link.
func (s *Service) Verify(ctx context.Context, key models.ChainKey) (models.VerifyResult, error) {
	chain, err := s.Chain(ctx, key)
	if err != nil {
		return models.VerifyResult{}, err
	}
	if len(chain) == 0 {
		return models.VerifyResult{}, dErrors.New(dErrors.CodeNotFound, "no records for subject and category")
	}
	res := models.VerifyChain(chain)
	if !res.Valid {
		s.metrics.IncrementVerifyFailure()
		s.logger.ErrorContext(ctx, "ledger chain verification failed",
			"subject", key.Subject,
			"category", key.Category,
			"broken_at", res.BrokenAt,
			"reason", res.Reason,
		)
	}
	return res, nil
}

func (s *Service) emitAudit(ctx context.Context, rec *models.RecordVersion) {
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: rec.Timestamp,
		ActorID:   rec.Issuer,
		Subject:   rec.Key().String(),
		Action:    string(audit.EventRecordAppended),
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit record audit event", "error", err)
	}
}
