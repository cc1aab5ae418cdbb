// Package publishers routes audit events to the publisher that owns their
// category.
package publishers

import (
	"context"

	audit "trustcert/pkg/platform/audit"
)

type Emitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Router sends compliance events to a fail-closed publisher and everything
// else to a best-effort one. Errors from the compliance side are returned.
type Router struct {
	compliance Emitter
	operations Emitter
}

func NewRouter(compliance, operations Emitter) *Router {
	return &Router{compliance: compliance, operations: operations}
}

func (r *Router) Emit(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	if category == audit.CategoryCompliance {
		return r.compliance.Emit(ctx, event)
	}
	return r.operations.Emit(ctx, event)
}
