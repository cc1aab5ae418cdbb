// Package models defines the record ledger: append-only, hash-chained facts
// about a subject within a category.
//
// A chain is the sequence of RecordVersions sharing (subject, category),
// ordered by Sequence starting at 1. Each record's PreviousHash is the
// DataHash of the record before it, or GenesisHash for the first record.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
)

// GenesisHash is the PreviousHash of the first record in every chain.
const GenesisHash = "GENESIS_HASH"

// Well-known categories read by the attendance and grade evaluators.
const (
	CategoryAttendance = "Attendance"
	CategoryGrade      = "Grade"
)

const (
	maxSubjectLen  = 128
	maxCategoryLen = 64
	maxValueLen    = 256
)

// ChainKey identifies one hash chain.
type ChainKey struct {
	Subject  string
	Category string
}

func (k ChainKey) String() string {
	return k.Subject + "/" + k.Category
}

// RecordVersion is one immutable link.
type RecordVersion struct {
	ID           id.RecordID
	Subject      string
	Category     string
	Sequence     int64
	Value        string
	Timestamp    time.Time
	Issuer       id.PrincipalID
	PreviousHash string
	DataHash     string
}

func (r *RecordVersion) Key() ChainKey {
	return ChainKey{Subject: r.Subject, Category: r.Category}
}

// ComputeHash returns hex(SHA-256(category || value || timestamp || previousHash)).
// The timestamp is rendered as RFC3339Nano in UTC so the hash is stable across
// stores that round-trip through different time zones.
func ComputeHash(category, value string, timestamp time.Time, previousHash string) string {
	h := sha256.New()
	h.Write([]byte(category))
	h.Write([]byte(value))
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// NewRecordVersion builds the next link after head (nil for an empty chain).
// Timestamps are truncated to microseconds, the precision Postgres keeps.
func NewRecordVersion(recordID id.RecordID, key ChainKey, value string, issuer id.PrincipalID, now time.Time, head *RecordVersion) (*RecordVersion, error) {
	if err := ValidateAppend(key, value); err != nil {
		return nil, err
	}
	prevHash := GenesisHash
	var seq int64 = 1
	if head != nil {
		prevHash = head.DataHash
		seq = head.Sequence + 1
	}
	ts := now.UTC().Truncate(time.Microsecond)
	return &RecordVersion{
		ID:           recordID,
		Subject:      key.Subject,
		Category:     key.Category,
		Sequence:     seq,
		Value:        value,
		Timestamp:    ts,
		Issuer:       issuer,
		PreviousHash: prevHash,
		DataHash:     ComputeHash(key.Category, value, ts, prevHash),
	}, nil
}

// ValidateAppend checks shape only. Value format is interpreted by evaluators.
func ValidateAppend(key ChainKey, value string) error {
	switch {
	case strings.TrimSpace(key.Subject) == "":
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	case strings.TrimSpace(key.Category) == "":
		return dErrors.New(dErrors.CodeValidation, "category is required")
	case len(key.Subject) > maxSubjectLen:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("subject must be at most %d characters", maxSubjectLen))
	case len(key.Category) > maxCategoryLen:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("category must be at most %d characters", maxCategoryLen))
	case len(value) > maxValueLen:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("value must be at most %d characters", maxValueLen))
	}
	return nil
}

// VerifyResult reports the outcome of re-walking a chain.
type VerifyResult struct {
	Valid    bool
	Length   int
	BrokenAt int64
	Reason   string
}

// VerifyChain recomputes every hash and link of a chain ordered oldest first
// and reports the first break.
func VerifyChain(chain []*RecordVersion) VerifyResult {
	expectedPrev := GenesisHash
	for i, rec := range chain {
		if rec.Sequence != int64(i+1) {
			return VerifyResult{Length: len(chain), BrokenAt: rec.Sequence, Reason: fmt.Sprintf("sequence gap: expected %d", i+1)}
		}
		if rec.PreviousHash != expectedPrev {
			return VerifyResult{Length: len(chain), BrokenAt: rec.Sequence, Reason: "previous_hash does not match predecessor"}
		}
		if ComputeHash(rec.Category, rec.Value, rec.Timestamp, rec.PreviousHash) != rec.DataHash {
			return VerifyResult{Length: len(chain), BrokenAt: rec.Sequence, Reason: "data_hash does not match contents"}
		}
		expectedPrev = rec.DataHash
	}
	return VerifyResult{Valid: true, Length: len(chain)}
}

// RecordAppended is published after a successful append.
type RecordAppended struct {
	RecordID  id.RecordID `json:"record_id"`
	Subject   string      `json:"subject"`
	Category  string      `json:"category"`
	Sequence  int64       `json:"sequence"`
	DataHash  string      `json:"data_hash"`
	Timestamp time.Time   `json:"timestamp"`
}

func (r *RecordVersion) Appended() RecordAppended {
	return RecordAppended{
		RecordID:  r.ID,
		Subject:   r.Subject,
		Category:  r.Category,
		Sequence:  r.Sequence,
		DataHash:  r.DataHash,
		Timestamp: r.Timestamp,
	}
}
