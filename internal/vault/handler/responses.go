package handler

import (
	"time"

	"trustcert/internal/vault/models"
)

// VaultResponse never carries the key.
type VaultResponse struct {
	AppID       uint64    `json:"app_id"`
	PayloadRef  string    `json:"payload_ref"`
	Filename    string    `json:"filename,omitempty"`
	Beneficiary string    `json:"beneficiary,omitempty"`
	Status      string    `json:"status"`
	OwnerID     string    `json:"owner_id"`
	UnlockTime  time.Time `json:"unlock_time"`
	CreatedAt   time.Time `json:"created_at"`
}

type VaultListResponse struct {
	Vaults []VaultResponse `json:"vaults"`
}

type ReleaseResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

func FromVault(v *models.Vault) VaultResponse {
	return VaultResponse{
		AppID:       v.AppID,
		PayloadRef:  v.PayloadRef,
		Filename:    v.Filename,
		Beneficiary: v.Beneficiary,
		Status:      string(v.Status),
		OwnerID:     v.Owner.String(),
		UnlockTime:  v.UnlockTime,
		CreatedAt:   v.CreatedAt,
	}
}

func FromVaults(vaults []*models.Vault) VaultListResponse {
	out := VaultListResponse{Vaults: make([]VaultResponse, 0, len(vaults))}
	for _, v := range vaults {
		out.Vaults = append(out.Vaults, FromVault(v))
	}
	return out
}
