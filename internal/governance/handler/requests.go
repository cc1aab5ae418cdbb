package handler

import (
	"strings"
	"time"

	"trustcert/internal/governance/models"
	dErrors "trustcert/pkg/domain-errors"
)

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

type CreatePolicyRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	ActivationDate string `json:"activation_date"`

	activation time.Time
}

func (r *CreatePolicyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	at, err := parseDate(r.ActivationDate)
	if err != nil {
		return err
	}
	r.activation = at
	return nil
}

// UpdatePolicyRequest is a partial update; absent fields are unchanged.
type UpdatePolicyRequest struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	ActivationDate *string `json:"activation_date,omitempty"`
	Active         *bool   `json:"active,omitempty"`

	activation *time.Time
}

func (r *UpdatePolicyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ActivationDate != nil {
		at, err := parseDate(*r.ActivationDate)
		if err != nil {
			return err
		}
		r.activation = &at
	}
	return nil
}

func (r *UpdatePolicyRequest) Update() models.Update {
	return models.Update{
		Name:           r.Name,
		Description:    r.Description,
		ActivationDate: r.activation,
		Active:         r.Active,
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "activation_date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, "activation_date must be an ISO-8601 timestamp")
}
