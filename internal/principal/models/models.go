package models

import (
	"slices"
	"strings"
	"time"

	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
)

const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
	RoleAdmin   = "admin"
)

const maxUsernameLen = 64

// ApprovalRoles may act on approval conditions and issue records.
var ApprovalRoles = []string{RoleFaculty, RoleAdmin}

// Principal is the minimal identity the release engine needs: who, and what
// they may do. Credentials live with the external auth collaborator.
type Principal struct {
	ID        id.PrincipalID
	Username  string
	Role      string
	CreatedAt time.Time
}

func (p *Principal) CanApprove() bool {
	return IsApprovalRole(p.Role)
}

func IsApprovalRole(role string) bool {
	return slices.Contains(ApprovalRoles, role)
}

func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return true
	}
	return false
}

// NormalizeUsername is the canonical form used for lookups.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func NewPrincipal(principalID id.PrincipalID, username, role string, now time.Time) (*Principal, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return nil, dErrors.New(dErrors.CodeValidation, "username is required")
	case len(username) > maxUsernameLen:
		return nil, dErrors.New(dErrors.CodeValidation, "username is too long")
	case strings.ContainsAny(username, " /"):
		return nil, dErrors.New(dErrors.CodeValidation, "username must not contain spaces or slashes")
	case !ValidRole(role):
		return nil, dErrors.New(dErrors.CodeValidation, "role must be one of student, faculty, admin")
	}
	return &Principal{ID: principalID, Username: username, Role: role, CreatedAt: now.UTC()}, nil
}
