package audit

import (
	"context"
	"time"

	id "trustcert/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers release decisions and anything touching key
	// custody. These are written fail-closed.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine activity that may be dropped under load.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Subject is the
// resource acted on (certificate id, vault app id, record chain).
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	ActorID   id.PrincipalID
	Subject   string
	Action    string
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	EventCertificateCreated  AuditEvent = "certificate_created"
	EventCertificateDeleted  AuditEvent = "certificate_deleted"
	EventCertificateUnlocked AuditEvent = "certificate_unlocked"
	EventConditionApproved   AuditEvent = "condition_approved"
	EventKeyReleased         AuditEvent = "key_released"

	EventRecordAppended AuditEvent = "record_appended"

	EventVaultStored   AuditEvent = "vault_stored"
	EventVaultReleased AuditEvent = "vault_released"
	EventVaultDeleted  AuditEvent = "vault_deleted"

	EventPolicyCreated AuditEvent = "policy_created"
	EventPolicyUpdated AuditEvent = "policy_updated"
	EventPolicyFrozen  AuditEvent = "policy_frozen"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCertificateCreated:  CategoryCompliance,
	EventCertificateDeleted:  CategoryCompliance,
	EventCertificateUnlocked: CategoryCompliance,
	EventConditionApproved:   CategoryCompliance,
	EventKeyReleased:         CategoryCompliance,
	EventVaultStored:         CategoryCompliance,
	EventVaultReleased:       CategoryCompliance,
	EventVaultDeleted:        CategoryCompliance,
	EventPolicyCreated:       CategoryCompliance,
	EventPolicyUpdated:       CategoryCompliance,
	EventPolicyFrozen:        CategoryCompliance,

	EventRecordAppended: CategoryOperations,
}

// Category returns the category for an event, defaulting to operations.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
