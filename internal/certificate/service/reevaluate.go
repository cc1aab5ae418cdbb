package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"trustcert/internal/certificate/evaluator"
	"trustcert/internal/certificate/models"
	ledger "trustcert/internal/ledger/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/sentinel"
	"trustcert/pkg/requestcontext"
)

// Evaluation is the result of one re-evaluation pass.
type Evaluation struct {
	CertificateID id.CertificateID
	Status        models.Status
	Conditions    []models.ConditionState
	Changed       bool
	Unlocked      bool
}

// Reevaluate runs every unmet condition through its evaluator and recomputes
// the status. Running it again with unchanged evidence changes nothing.
func (s *Service) Reevaluate(ctx context.Context, certID id.CertificateID) (*Evaluation, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Reevaluate", trace.WithAttributes(
		attribute.String("certificate.id", certID.String()),
	))
	defer span.End()
	start := time.Now()

	res, err := s.reevaluate(ctx, certID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reevaluate failed")
		s.metrics.IncrementReevaluation("error")
		return nil, err
	}

	s.metrics.ObserveReevaluationLatency(time.Since(start))
	if res.Changed {
		s.metrics.IncrementReevaluation("changed")
	} else {
		s.metrics.IncrementReevaluation("unchanged")
	}
	if res.Unlocked {
		s.onUnlocked(ctx, certID, "reevaluate")
	}
	span.SetAttributes(attribute.String("certificate.status", string(res.Status)))
	return res, nil
}

func (s *Service) reevaluate(ctx context.Context, certID id.CertificateID) (*Evaluation, error) {
	cert, err := s.find(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.IsUnlocked() {
		return &Evaluation{CertificateID: cert.ID, Status: cert.Status, Conditions: cert.States()}, nil
	}

	// Ledger reads happen before the lock; conditions are fixed at creation so
	// the categories cannot change underneath us.
	snap, err := s.snapshot(ctx, cert)
	if err != nil {
		return nil, err
	}

	var res *Evaluation
	err = s.tx.RunInTx(ctx, certID, func(ctx context.Context) error {
		current, err := s.store.FindByIDForUpdate(ctx, certID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "certificate not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
		}

		changed := false
		for _, cond := range current.Conditions {
			if cond.Apply(evaluator.Evaluate(cond, snap)) {
				changed = true
			}
		}
		unlocked := current.Recompute(snap.Now)
		if unlocked {
			if err := s.record(ctx, audit.EventCertificateUnlocked, id.PrincipalID{}, certID.String(), "reevaluate"); err != nil {
				return err
			}
		}
		if changed || unlocked {
			if err := s.store.Update(ctx, current); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save certificate")
			}
		}
		res = &Evaluation{
			CertificateID: current.ID,
			Status:        current.Status,
			Conditions:    current.States(),
			Changed:       changed || unlocked,
			Unlocked:      unlocked,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// snapshot reads the ledger chains the certificate's unmet conditions need.
func (s *Service) snapshot(ctx context.Context, cert *models.Certificate) (evaluator.Snapshot, error) {
	snap := evaluator.Snapshot{
		Now:    requestcontext.Now(ctx),
		Chains: make(map[string][]*ledger.RecordVersion),
	}
	for _, category := range evaluator.Categories(cert.Conditions) {
		chain, err := s.ledger.Chain(ctx, ledger.ChainKey{Subject: cert.Subject, Category: category})
		if err != nil {
			return evaluator.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read ledger")
		}
		snap.Chains[category] = chain
	}
	return snap, nil
}

// ReevaluateSubject re-evaluates every LOCKED certificate of subject. It is
// the consumer side of record-appended notifications.
func (s *Service) ReevaluateSubject(ctx context.Context, subject string) error {
	ids, err := s.store.ListLockedIDsBySubject(ctx, subject)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list locked certificates")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for _, certID := range ids {
		g.Go(func() error {
			_, err := s.Reevaluate(gctx, certID)
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// HandleRecordAppended adapts ReevaluateSubject to the ledger event handler
// signature.
func (s *Service) HandleRecordAppended(ctx context.Context, event ledger.RecordAppended) error {
	return s.ReevaluateSubject(ctx, event.Subject)
}

// ReevaluateLocked visits every LOCKED certificate once. A failure on one
// certificate is logged and does not stop the pass. Returns how many
// certificates were visited and how many unlocked.
func (s *Service) ReevaluateLocked(ctx context.Context) (visited, unlocked int, err error) {
	start := time.Now()
	ids, err := s.store.ListLockedIDs(ctx)
	if err != nil {
		return 0, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list locked certificates")
	}

	results := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, certID := range ids {
		g.Go(func() error {
			res, err := s.Reevaluate(gctx, certID)
			if err != nil {
				if !dErrors.HasCode(err, dErrors.CodeNotFound) {
					s.logger.WarnContext(gctx, "sweep re-evaluation failed",
						"certificate_id", certID.String(),
						"error", err,
					)
				}
				return nil
			}
			results[i] = res.Unlocked
			return nil
		})
	}
	_ = g.Wait()

	for _, u := range results {
		if u {
			unlocked++
		}
	}
	s.metrics.ObserveSweep(len(ids), time.Since(start))
	return len(ids), unlocked, ctx.Err()
}

func (s *Service) onUnlocked(ctx context.Context, certID id.CertificateID, trigger string) {
	s.metrics.IncrementUnlocked(trigger)
	s.logger.InfoContext(ctx, "certificate unlocked",
		"certificate_id", certID.String(),
		"trigger", trigger,
		"request_id", requestcontext.RequestID(ctx),
	)
}
