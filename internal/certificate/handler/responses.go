package handler

import (
	"time"

	"trustcert/internal/certificate/models"
	"trustcert/internal/certificate/service"
)

type ConditionResponse struct {
	Kind        string `json:"kind"`
	Target      string `json:"target"`
	Description string `json:"description"`
	Met         bool   `json:"met"`
	Current     string `json:"current,omitempty"`
}

// CertificateResponse is the certificate view. It never carries the payload
// key, sealed or not.
type CertificateResponse struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Status     string              `json:"status"`
	Subject    string              `json:"subject"`
	Conditions []ConditionResponse `json:"conditions"`
	CreatedAt  time.Time           `json:"created_at"`
	UnlockedAt *time.Time          `json:"unlocked_at,omitempty"`
}

type CertificateListResponse struct {
	Certificates []CertificateResponse `json:"certificates"`
}

type EvaluationResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	Changed    bool                `json:"changed"`
	Conditions []ConditionResponse `json:"conditions"`
}

type ApproveResponse struct {
	Status     string `json:"status"`
	CertStatus string `json:"cert_status"`
}

type KeyResponse struct {
	CertificateID       string `json:"certificate_id"`
	EncryptedPayloadRef string `json:"encrypted_payload_ref"`
	PayloadKey          string `json:"payload_key"`
}

type PendingApprovalResponse struct {
	CertificateID string    `json:"certificate_id"`
	Title         string    `json:"title"`
	Subject       string    `json:"subject"`
	Description   string    `json:"description"`
	Targeted      bool      `json:"targeted"`
	CreatedAt     time.Time `json:"created_at"`
}

type PendingApprovalListResponse struct {
	Pending []PendingApprovalResponse `json:"pending"`
}

func FromCertificate(cert *models.Certificate) CertificateResponse {
	return CertificateResponse{
		ID:         cert.ID.String(),
		Title:      cert.Title,
		Status:     string(cert.Status),
		Subject:    cert.Subject,
		Conditions: fromStates(cert.States()),
		CreatedAt:  cert.CreatedAt,
		UnlockedAt: cert.UnlockedAt,
	}
}

func FromCertificates(certs []*models.Certificate) CertificateListResponse {
	out := CertificateListResponse{Certificates: make([]CertificateResponse, 0, len(certs))}
	for _, c := range certs {
		out.Certificates = append(out.Certificates, FromCertificate(c))
	}
	return out
}

func FromEvaluation(res *service.Evaluation) EvaluationResponse {
	return EvaluationResponse{
		ID:         res.CertificateID.String(),
		Status:     string(res.Status),
		Changed:    res.Changed,
		Conditions: fromStates(res.Conditions),
	}
}

func FromPending(pending []models.PendingApproval) PendingApprovalListResponse {
	out := PendingApprovalListResponse{Pending: make([]PendingApprovalResponse, 0, len(pending))}
	for _, p := range pending {
		out.Pending = append(out.Pending, PendingApprovalResponse{
			CertificateID: p.CertificateID.String(),
			Title:         p.Title,
			Subject:       p.Subject,
			Description:   p.Condition.Description,
			Targeted:      p.Condition.IsTargeted(),
			CreatedAt:     p.CreatedAt,
		})
	}
	return out
}

func fromStates(states []models.ConditionState) []ConditionResponse {
	out := make([]ConditionResponse, 0, len(states))
	for _, st := range states {
		out = append(out, ConditionResponse{
			Kind:        st.Kind.String(),
			Target:      st.Target,
			Description: st.Description,
			Met:         st.Met,
			Current:     st.Current,
		})
	}
	return out
}
