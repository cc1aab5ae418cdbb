package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
)

// Kind is the closed set of condition predicates. Every switch over Kind
// must list all four values.
type Kind string

const (
	KindTime       Kind = "time"
	KindAttendance Kind = "attendance"
	KindGrade      Kind = "grade"
	KindApproval   Kind = "approval"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindTime, KindAttendance, KindGrade, KindApproval}

func (k Kind) IsValid() bool {
	switch k {
	case KindTime, KindAttendance, KindGrade, KindApproval:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts the lowercase wire form.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown condition kind %q", s))
	}
	return k, nil
}

// Ledger categories read by record-backed kinds.
const (
	CategoryAttendance = "Attendance"
	CategoryGrade      = "Grade"
)

// Category returns the ledger category a kind reads, if any.
func (k Kind) Category() (string, bool) {
	switch k {
	case KindAttendance:
		return CategoryAttendance, true
	case KindGrade:
		return CategoryGrade, true
	case KindTime, KindApproval:
		return "", false
	}
	return "", false
}

type Status string

const (
	StatusLocked   Status = "LOCKED"
	StatusUnlocked Status = "UNLOCKED"
)

func (s Status) IsValid() bool {
	return s == StatusLocked || s == StatusUnlocked
}

// Approval roles recorded on approval conditions.
const (
	ApprovalRoleFaculty = "faculty"
	ApprovalRoleAdmin   = "admin"
)

// Spec is one compiled condition before it belongs to a certificate.
type Spec struct {
	Kind            Kind
	Target          string
	Description     string
	Role            string
	TargetRecipient *id.PrincipalID
}

// Condition is a predicate owned by exactly one certificate. Only Met and
// Current change after creation, and Met never goes back to false.
type Condition struct {
	ID              id.ConditionID
	Position        int
	Kind            Kind
	Target          string
	Current         string
	Met             bool
	Description     string
	Role            string
	TargetRecipient *id.PrincipalID
}

func (c *Condition) IsTargeted() bool {
	return c.TargetRecipient != nil && !c.TargetRecipient.IsNil()
}

// Outcome is an evaluator's verdict for one condition.
type Outcome struct {
	Met       bool
	Observed  string
	Evaluable bool
}

// Apply folds an outcome into the condition. A met condition is left alone.
// Reports whether anything changed.
func (c *Condition) Apply(o Outcome) bool {
	if c.Met || !o.Evaluable {
		return false
	}
	changed := false
	if o.Observed != "" && o.Observed != c.Current {
		c.Current = o.Observed
		changed = true
	}
	if o.Met {
		c.Met = true
		changed = true
	}
	return changed
}

// ApprovalNote is the audit string stored on an approved condition.
func ApprovalNote(approver string, at time.Time) string {
	return fmt.Sprintf("Approved by %s at %s", approver, at.UTC().Format(time.RFC3339))
}

// Certificate is the aggregate root binding a subject, a sealed payload key,
// and a fixed condition set.
type Certificate struct {
	ID         id.CertificateID
	Title      string
	Subject    string
	Issuer     id.PrincipalID
	Status     Status
	Conditions []*Condition
	PayloadRef string
	PayloadKey string
	CreatedAt  time.Time
	UnlockedAt *time.Time
}

const (
	maxTitleLen   = 200
	maxSubjectLen = 128
)

// NewCertificate builds a LOCKED certificate from compiled specs. payloadKey
// must already be sealed.
func NewCertificate(certID id.CertificateID, title, subject string, issuer id.PrincipalID, specs []Spec, payloadRef, payloadKey string, now time.Time) (*Certificate, error) {
	title = strings.TrimSpace(title)
	subject = strings.TrimSpace(subject)
	switch {
	case title == "":
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	case len(title) > maxTitleLen:
		return nil, dErrors.New(dErrors.CodeValidation, "title is too long")
	case subject == "":
		return nil, dErrors.New(dErrors.CodeValidation, "subject is required")
	case len(subject) > maxSubjectLen:
		return nil, dErrors.New(dErrors.CodeValidation, "subject is too long")
	case strings.TrimSpace(payloadRef) == "":
		return nil, dErrors.New(dErrors.CodeValidation, "encrypted_payload_ref is required")
	case payloadKey == "":
		return nil, dErrors.New(dErrors.CodeValidation, "payload_key is required")
	case len(specs) == 0:
		return nil, dErrors.New(dErrors.CodeValidation, "certificate must have at least one condition")
	}

	conds := make([]*Condition, 0, len(specs))
	for i, spec := range specs {
		if !spec.Kind.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("condition %d has unknown kind %q", i, spec.Kind))
		}
		conds = append(conds, &Condition{
			ID:              id.ConditionID(uuid.New()),
			Position:        i,
			Kind:            spec.Kind,
			Target:          spec.Target,
			Current:         "",
			Description:     spec.Description,
			Role:            spec.Role,
			TargetRecipient: spec.TargetRecipient,
		})
	}

	return &Certificate{
		ID:         certID,
		Title:      title,
		Subject:    subject,
		Issuer:     issuer,
		Status:     StatusLocked,
		Conditions: conds,
		PayloadRef: strings.TrimSpace(payloadRef),
		PayloadKey: payloadKey,
		CreatedAt:  now.UTC().Truncate(time.Microsecond),
	}, nil
}

// AllMet is the aggregate check. A condition of unknown kind is never met.
func (c *Certificate) AllMet() bool {
	if len(c.Conditions) == 0 {
		return false
	}
	for _, cond := range c.Conditions {
		switch cond.Kind {
		case KindTime, KindAttendance, KindGrade, KindApproval:
			if !cond.Met {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Recompute makes UNLOCKED hold exactly when every condition is met. It only
// moves LOCKED to UNLOCKED and reports whether that transition happened now.
func (c *Certificate) Recompute(now time.Time) bool {
	if c.Status == StatusUnlocked || !c.AllMet() {
		return false
	}
	c.Status = StatusUnlocked
	at := now.UTC().Truncate(time.Microsecond)
	c.UnlockedAt = &at
	return true
}

func (c *Certificate) IsUnlocked() bool {
	return c.Status == StatusUnlocked
}

// ConditionOfKind prefers an unmet condition of kind, then any of kind.
func (c *Certificate) ConditionOfKind(kind Kind) *Condition {
	var first *Condition
	for _, cond := range c.Conditions {
		if cond.Kind != kind {
			continue
		}
		if !cond.Met {
			return cond
		}
		if first == nil {
			first = cond
		}
	}
	return first
}

// ConditionState is the per-condition detail returned by a re-evaluation.
type ConditionState struct {
	Kind        Kind
	Target      string
	Current     string
	Description string
	Met         bool
}

func (c *Certificate) States() []ConditionState {
	out := make([]ConditionState, 0, len(c.Conditions))
	for _, cond := range c.Conditions {
		out = append(out, ConditionState{
			Kind:        cond.Kind,
			Target:      cond.Target,
			Current:     cond.Current,
			Description: cond.Description,
			Met:         cond.Met,
		})
	}
	return out
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (c *Certificate) Clone() *Certificate {
	out := *c
	if c.UnlockedAt != nil {
		at := *c.UnlockedAt
		out.UnlockedAt = &at
	}
	out.Conditions = make([]*Condition, len(c.Conditions))
	for i, cond := range c.Conditions {
		cp := *cond
		if cond.TargetRecipient != nil {
			tr := *cond.TargetRecipient
			cp.TargetRecipient = &tr
		}
		out.Conditions[i] = &cp
	}
	return &out
}

// PendingApproval is an unmet approval condition together with the
// certificate that owns it.
type PendingApproval struct {
	CertificateID id.CertificateID
	Title         string
	Subject       string
	Condition     Condition
	CreatedAt     time.Time
}
