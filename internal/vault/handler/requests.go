package handler

import (
	"strings"
	"time"

	dErrors "trustcert/pkg/domain-errors"
)

// unlockTimeLayouts are tried in order; times without a zone are UTC.
var unlockTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// StoreRequest is the HTTP request body for POST /vaults.
type StoreRequest struct {
	AppID       uint64 `json:"app_id"`
	PayloadRef  string `json:"payload_ref"`
	Filename    string `json:"filename,omitempty"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Key         string `json:"key"`
	UnlockTime  string `json:"unlock_time"`

	unlockAt time.Time
}

func (r *StoreRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.PayloadRef = strings.TrimSpace(r.PayloadRef)
	r.UnlockTime = strings.TrimSpace(r.UnlockTime)

	switch {
	case r.AppID == 0:
		return dErrors.New(dErrors.CodeValidation, "app_id is required")
	case r.PayloadRef == "":
		return dErrors.New(dErrors.CodeValidation, "payload_ref is required")
	case r.Key == "":
		return dErrors.New(dErrors.CodeValidation, "key is required")
	case r.UnlockTime == "":
		return dErrors.New(dErrors.CodeValidation, "unlock_time is required")
	}
	at, ok := parseUnlockTime(r.UnlockTime)
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "unlock_time must be an ISO-8601 timestamp")
	}
	r.unlockAt = at
	return nil
}

func (r *StoreRequest) UnlockAt() time.Time {
	return r.unlockAt
}

func parseUnlockTime(s string) (time.Time, bool) {
	for _, layout := range unlockTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
