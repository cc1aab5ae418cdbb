// Package events carries record-appended notifications from the ledger to
// whatever reacts to them. inprocess and kafka are the two transports.
package events

import (
	"context"

	"trustcert/internal/ledger/models"
)

// HandlerFunc reacts to one appended record.
type HandlerFunc func(ctx context.Context, event models.RecordAppended) error
