// Package service manages governance policies. Edits and freezes run under a
// row lock so a concurrent freeze cannot be overtaken by an edit.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trustcert/internal/governance/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/sentinel"
	"trustcert/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, p *models.Policy) error
	FindByID(ctx context.Context, policyID id.PolicyID) (*models.Policy, error)
	FindByIDForUpdate(ctx context.Context, policyID id.PolicyID) (*models.Policy, error)
	Update(ctx context.Context, p *models.Policy) error
	List(ctx context.Context) ([]*models.Policy, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	auditPublisher AuditPublisher
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	Name           string
	Description    string
	ActivationDate time.Time
	Actor          id.PrincipalID
}

// Create publishes a new active policy.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Policy, error) {
	p, err := models.NewPolicy(id.PolicyID(uuid.New()), in.Name, in.Description, in.ActivationDate,
		in.Actor, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.record(ctx, audit.EventPolicyCreated, in.Actor, p.ID, p.Name); err != nil {
			return err
		}
		if err := s.store.Create(ctx, p); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "policy already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save policy")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "governance policy created",
		"policy_id", p.ID.String(),
		"name", p.Name,
		"request_id", requestcontext.RequestID(ctx),
	)
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]*models.Policy, error) {
	policies, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list policies")
	}
	return policies, nil
}

func (s *Service) Get(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	p, err := s.store.FindByID(ctx, policyID)
	if err != nil {
		return nil, translate(err, "failed to load policy")
	}
	return p, nil
}

// Update edits a policy. Frozen policies are a conflict.
func (s *Service) Update(ctx context.Context, policyID id.PolicyID, u models.Update, actor id.PrincipalID) (*models.Policy, error) {
	p, err := s.mutate(ctx, policyID, audit.EventPolicyUpdated, actor, func(p *models.Policy) error {
		return p.Apply(u, requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "governance policy updated",
		"policy_id", p.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return p, nil
}

// Freeze makes a policy immutable. Freezing twice is a conflict.
func (s *Service) Freeze(ctx context.Context, policyID id.PolicyID, actor id.PrincipalID) (*models.Policy, error) {
	p, err := s.mutate(ctx, policyID, audit.EventPolicyFrozen, actor, func(p *models.Policy) error {
		return p.Freeze(requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "governance policy frozen",
		"policy_id", p.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return p, nil
}

// mutate applies change under the policy's row lock. The audit row is
// written in the same transaction, ahead of the update.
func (s *Service) mutate(ctx context.Context, policyID id.PolicyID, action audit.AuditEvent, actor id.PrincipalID, change func(*models.Policy) error) (*models.Policy, error) {
	var out *models.Policy
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.store.FindByIDForUpdate(ctx, policyID)
		if err != nil {
			return translate(err, "failed to load policy")
		}
		if err := change(p); err != nil {
			return err
		}
		if err := s.record(ctx, action, actor, p.ID, ""); err != nil {
			return err
		}
		if err := s.store.Update(ctx, p); err != nil {
			return translate(err, "failed to save policy")
		}
		out = p
		return nil
	})
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "policy transaction failed")
	}
	return out, nil
}

func translate(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "policy not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) record(ctx context.Context, action audit.AuditEvent, actor id.PrincipalID, policyID id.PolicyID, reason string) error {
	if s.auditPublisher == nil {
		return nil
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		ActorID:   actor,
		Subject:   "policy:" + policyID.String(),
		Action:    string(action),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, string(action)+" could not be audited")
	}
	return nil
}
