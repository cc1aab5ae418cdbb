// Package models holds governance policies: named, dated rules an
// administrator publishes and may freeze. Freezing is one-way.
package models

import (
	"strings"
	"time"

	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
)

const maxNameLen = 200

type Policy struct {
	ID             id.PolicyID
	Name           string
	Description    string
	ActivationDate time.Time
	Active         bool
	Frozen         bool
	CreatedBy      id.PrincipalID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Update carries optional edits; nil fields are left alone.
type Update struct {
	Name           *string
	Description    *string
	ActivationDate *time.Time
	Active         *bool
}

func (u Update) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.ActivationDate == nil && u.Active == nil
}

// NewPolicy creates an active, unfrozen policy.
func NewPolicy(policyID id.PolicyID, name, description string, activation time.Time, createdBy id.PrincipalID, now time.Time) (*Policy, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if activation.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "activation_date is required")
	}
	return &Policy{
		ID:             policyID,
		Name:           name,
		Description:    strings.TrimSpace(description),
		ActivationDate: activation.UTC(),
		Active:         true,
		CreatedBy:      createdBy,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}, nil
}

// Apply edits an unfrozen policy.
func (p *Policy) Apply(u Update, now time.Time) error {
	if p.Frozen {
		return dErrors.New(dErrors.CodeConflict, "policy is frozen")
	}
	if u.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "no changes supplied")
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if err := validateName(name); err != nil {
			return err
		}
		p.Name = name
	}
	if u.Description != nil {
		p.Description = strings.TrimSpace(*u.Description)
	}
	if u.ActivationDate != nil {
		if u.ActivationDate.IsZero() {
			return dErrors.New(dErrors.CodeValidation, "activation_date is required")
		}
		p.ActivationDate = u.ActivationDate.UTC()
	}
	if u.Active != nil {
		p.Active = *u.Active
	}
	p.UpdatedAt = now.UTC()
	return nil
}

// Freeze makes the policy immutable.
func (p *Policy) Freeze(now time.Time) error {
	if p.Frozen {
		return dErrors.New(dErrors.CodeConflict, "policy already frozen")
	}
	p.Frozen = true
	p.UpdatedAt = now.UTC()
	return nil
}

// InEffect reports whether the policy is active and its activation date has
// been reached.
func (p *Policy) InEffect(now time.Time) bool {
	return p.Active && !now.Before(p.ActivationDate)
}

func validateName(name string) error {
	switch {
	case name == "":
		return dErrors.New(dErrors.CodeValidation, "name is required")
	case len(name) > maxNameLen:
		return dErrors.New(dErrors.CodeValidation, "name is too long")
	}
	return nil
}
