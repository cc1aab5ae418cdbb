package handler

import (
	"strings"

	"trustcert/internal/certificate/compiler"
	dErrors "trustcert/pkg/domain-errors"
)

// IssueRequest is the HTTP request body for POST /certificates.
type IssueRequest struct {
	Title               string `json:"title"`
	Subject             string `json:"subject"`
	FreeText            string `json:"free_text,omitempty"`
	ManualDate          string `json:"manual_date,omitempty"`
	RequireApproval     bool   `json:"require_approval"`
	TargetedApprover    string `json:"targeted_approver,omitempty"`
	EncryptedPayloadRef string `json:"encrypted_payload_ref"`
	PayloadKey          string `json:"payload_key"`
}

// Validate implements httputil.Validatable. Condition inputs are checked by
// the compiler.
func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Title = strings.TrimSpace(r.Title)
	r.Subject = strings.TrimSpace(r.Subject)
	r.FreeText = strings.TrimSpace(r.FreeText)
	r.ManualDate = strings.TrimSpace(r.ManualDate)
	r.TargetedApprover = strings.TrimSpace(r.TargetedApprover)
	r.EncryptedPayloadRef = strings.TrimSpace(r.EncryptedPayloadRef)

	switch {
	case r.Title == "":
		return dErrors.New(dErrors.CodeValidation, "title is required")
	case r.Subject == "":
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	case r.EncryptedPayloadRef == "":
		return dErrors.New(dErrors.CodeValidation, "encrypted_payload_ref is required")
	case r.PayloadKey == "":
		return dErrors.New(dErrors.CodeValidation, "payload_key is required")
	case r.TargetedApprover != "" && !r.RequireApproval:
		return dErrors.New(dErrors.CodeValidation, "targeted_approver requires require_approval")
	}
	return nil
}

func (r *IssueRequest) Conditions() compiler.Input {
	return compiler.Input{
		FreeText:         r.FreeText,
		ManualDate:       r.ManualDate,
		RequireApproval:  r.RequireApproval,
		TargetedApprover: r.TargetedApprover,
	}
}
