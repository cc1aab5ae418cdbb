// Package approval decides who may see and act on approval conditions.
// Targeting is exclusive: a targeted condition belongs to the named
// principal alone, whatever roles others hold.
package approval

import (
	"time"

	"trustcert/internal/certificate/models"
	principal "trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
)

// Actor is the principal attempting to see or act on a condition.
type Actor struct {
	ID       id.PrincipalID
	Username string
	Role     string
}

// Visible reports whether cond belongs in actor's pending list.
func Visible(cond *models.Condition, actor Actor) bool {
	if cond.Kind != models.KindApproval || cond.Met {
		return false
	}
	if cond.IsTargeted() {
		return *cond.TargetRecipient == actor.ID
	}
	return principal.IsApprovalRole(actor.Role)
}

// CanAct returns nil when actor may approve cond, else a forbidden error
// saying why.
func CanAct(cond *models.Condition, actor Actor) error {
	if cond.Kind != models.KindApproval {
		return dErrors.New(dErrors.CodeBadRequest, "only approval conditions can be approved")
	}
	if !principal.IsApprovalRole(actor.Role) {
		return dErrors.New(dErrors.CodeForbidden, "role cannot approve conditions")
	}
	if cond.IsTargeted() && *cond.TargetRecipient != actor.ID {
		return dErrors.New(dErrors.CodeForbidden, "approval is assigned to another principal")
	}
	return nil
}

// Choose picks the condition of kind that actor's approval lands on. An
// unmet condition targeted at actor wins over an unmet open one, so a
// targeted approver never uses up the open slot meant for role holders.
// When no unmet condition is actionable the first unmet one decides the
// refusal; when all are met the first is returned and approving it is a
// no-op.
func Choose(cert *models.Certificate, kind models.Kind, actor Actor) (*models.Condition, error) {
	if kind != models.KindApproval {
		if cond := cert.ConditionOfKind(kind); cond != nil {
			return cond, nil
		}
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate has no condition of kind "+kind.String())
	}

	var mine, open, blocked, met *models.Condition
	for _, cond := range cert.Conditions {
		if cond.Kind != models.KindApproval {
			continue
		}
		switch {
		case cond.Met:
			if met == nil {
				met = cond
			}
		case cond.IsTargeted() && *cond.TargetRecipient == actor.ID:
			if mine == nil {
				mine = cond
			}
		case Visible(cond, actor):
			if open == nil {
				open = cond
			}
		default:
			if blocked == nil {
				blocked = cond
			}
		}
	}
	for _, cond := range []*models.Condition{mine, open, blocked, met} {
		if cond != nil {
			return cond, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "certificate has no condition of kind "+kind.String())
}

// Approve marks cond met on behalf of actor. It is one-way; approving an
// already met condition is a no-op that reports false.
func Approve(cond *models.Condition, actor Actor, at time.Time) (bool, error) {
	if err := CanAct(cond, actor); err != nil {
		return false, err
	}
	if cond.Met {
		return false, nil
	}
	name := actor.Username
	if name == "" {
		name = actor.ID.String()
	}
	cond.Met = true
	cond.Current = models.ApprovalNote(name, at)
	return true, nil
}

// Pending collects the approval conditions of certs visible to actor.
func Pending(certs []*models.Certificate, actor Actor) []models.PendingApproval {
	var out []models.PendingApproval
	for _, cert := range certs {
		for _, cond := range cert.Conditions {
			if !Visible(cond, actor) {
				continue
			}
			out = append(out, models.PendingApproval{
				CertificateID: cert.ID,
				Title:         cert.Title,
				Subject:       cert.Subject,
				Condition:     *cond,
				CreatedAt:     cert.CreatedAt,
			})
		}
	}
	return out
}
