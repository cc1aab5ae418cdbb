package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustcert/internal/certificate/approval"
	"trustcert/internal/certificate/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/sentinel"
	"trustcert/pkg/requestcontext"
)

// Approve satisfies the certificate's condition of kind on behalf of actor and
// recomputes the status. Approving an already met condition returns the
// current status unchanged. The audit rows are written in the same
// transaction, so an approval that cannot be audited is not saved.
func (s *Service) Approve(ctx context.Context, certID id.CertificateID, kind models.Kind, actor approval.Actor) (models.Status, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Approve", trace.WithAttributes(
		attribute.String("certificate.id", certID.String()),
		attribute.String("condition.kind", kind.String()),
	))
	defer span.End()

	var (
		status   models.Status
		approved bool
		unlocked bool
	)
	err := s.tx.RunInTx(ctx, certID, func(ctx context.Context) error {
		cert, err := s.store.FindByIDForUpdate(ctx, certID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "certificate not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
		}
		cond, err := approval.Choose(cert, kind, actor)
		if err != nil {
			return err
		}

		now := requestcontext.Now(ctx)
		approved, err = approval.Approve(cond, actor, now)
		if err != nil {
			return err
		}
		unlocked = cert.Recompute(now)
		status = cert.Status
		if !approved && !unlocked {
			return nil
		}
		if approved {
			if err := s.record(ctx, audit.EventConditionApproved, actor.ID, certID.String(), cond.Current); err != nil {
				return err
			}
		}
		if unlocked {
			if err := s.record(ctx, audit.EventCertificateUnlocked, actor.ID, certID.String(), "approve"); err != nil {
				return err
			}
		}
		if err := s.store.Update(ctx, cert); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save certificate")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "approve failed")
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			s.logger.WarnContext(ctx, "approval denied",
				"certificate_id", certID.String(),
				"actor", actor.Username,
				"role", actor.Role,
				"reason", err.Error(),
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return "", err
	}

	if approved {
		s.metrics.IncrementApproval()
		s.logger.InfoContext(ctx, "condition approved",
			"certificate_id", certID.String(),
			"actor", actor.Username,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if unlocked {
		s.onUnlocked(ctx, certID, "approve")
	}
	return status, nil
}

// PendingApprovals lists the unmet approval conditions actor may act on.
func (s *Service) PendingApprovals(ctx context.Context, actor approval.Actor) ([]models.PendingApproval, error) {
	certs, err := s.store.ListWithPendingApprovals(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending approvals")
	}
	pending := approval.Pending(certs, actor)
	if pending == nil {
		pending = []models.PendingApproval{}
	}
	return pending, nil
}
