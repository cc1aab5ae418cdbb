package handler

import (
	"strings"

	"trustcert/internal/ledger/models"
	dErrors "trustcert/pkg/domain-errors"
)

// AppendRequest is the HTTP request body for POST /records.
type AppendRequest struct {
	Subject  string `json:"subject"`
	Category string `json:"category"`
	Value    string `json:"value"`
}

// Validate implements httputil.Validatable.
func (r *AppendRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Subject = strings.TrimSpace(r.Subject)
	r.Category = strings.TrimSpace(r.Category)
	r.Value = strings.TrimSpace(r.Value)
	return models.ValidateAppend(r.Key(), r.Value)
}

func (r *AppendRequest) Key() models.ChainKey {
	return models.ChainKey{Subject: r.Subject, Category: r.Category}
}
