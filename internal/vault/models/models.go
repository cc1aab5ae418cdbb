// Package models holds the vault escrow record: a sealed key held against an
// on-chain application until that application reports itself unlocked.
package models

import (
	"strings"
	"time"

	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
)

type Status string

const (
	StatusLocked   Status = "LOCKED"
	StatusUnlocked Status = "UNLOCKED"
)

type Vault struct {
	AppID       uint64
	Owner       id.PrincipalID
	PayloadRef  string
	Filename    string
	Beneficiary string
	SealedKey   string
	UnlockTime  time.Time
	Status      Status
	CreatedAt   time.Time
}

func NewVault(appID uint64, owner id.PrincipalID, payloadRef, filename, beneficiary, sealedKey string, unlockTime, now time.Time) (*Vault, error) {
	payloadRef = strings.TrimSpace(payloadRef)
	switch {
	case appID == 0:
		return nil, dErrors.New(dErrors.CodeValidation, "app_id is required")
	case owner.IsNil():
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	case payloadRef == "":
		return nil, dErrors.New(dErrors.CodeValidation, "payload_ref is required")
	case sealedKey == "":
		return nil, dErrors.New(dErrors.CodeValidation, "key is required")
	case unlockTime.IsZero():
		return nil, dErrors.New(dErrors.CodeValidation, "unlock_time is required")
	}
	return &Vault{
		AppID:       appID,
		Owner:       owner,
		PayloadRef:  payloadRef,
		Filename:    strings.TrimSpace(filename),
		Beneficiary: strings.TrimSpace(beneficiary),
		SealedKey:   sealedKey,
		UnlockTime:  unlockTime.UTC(),
		Status:      StatusLocked,
		CreatedAt:   now.UTC(),
	}, nil
}

func (v *Vault) IsUnlocked() bool {
	return v.Status == StatusUnlocked
}

// TimeElapsed is the clock fallback used when the chain cannot be asked.
func (v *Vault) TimeElapsed(now time.Time) bool {
	return now.After(v.UnlockTime)
}

// MarkUnlocked moves the vault to UNLOCKED and reports whether that changed
// anything. There is no way back.
func (v *Vault) MarkUnlocked() bool {
	if v.Status == StatusUnlocked {
		return false
	}
	v.Status = StatusUnlocked
	return true
}
