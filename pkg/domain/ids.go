// Package domain holds typed identifiers shared across modules. Each ID type
// wraps a UUID so a certificate id can never be passed where a principal id
// is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "trustcert/pkg/domain-errors"
)

type (
	PrincipalID   uuid.UUID
	CertificateID uuid.UUID
	ConditionID   uuid.UUID
	RecordID      uuid.UUID
	PolicyID      uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

// ParsePrincipalID parses a principal (user) id at a trust boundary.
func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := parseUUID("principal id", s)
	return PrincipalID(u), err
}

// ParseCertificateID parses a certificate id at a trust boundary.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID("certificate id", s)
	return CertificateID(u), err
}

func ParseConditionID(s string) (ConditionID, error) {
	u, err := parseUUID("condition id", s)
	return ConditionID(u), err
}

func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID("record id", s)
	return RecordID(u), err
}

func ParsePolicyID(s string) (PolicyID, error) {
	u, err := parseUUID("policy id", s)
	return PolicyID(u), err
}

func (id PrincipalID) String() string   { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id ConditionID) String() string   { return uuid.UUID(id).String() }
func (id RecordID) String() string      { return uuid.UUID(id).String() }
func (id PolicyID) String() string      { return uuid.UUID(id).String() }

func (id PrincipalID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ConditionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id PolicyID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// Text marshaling lets ids appear as strings in JSON event payloads.

func (id PrincipalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RecordID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *PrincipalID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RecordID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
