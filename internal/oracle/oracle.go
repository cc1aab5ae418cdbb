// Package oracle answers one question for the vault: has the on-chain
// contract for an application flipped its unlock flag. Answers are advisory;
// callers fall back to their own clock when the oracle cannot be reached.
package oracle

import (
	"context"
	"errors"
)

// ErrUnavailable means no answer could be obtained in time. Callers must
// treat it as "unknown", never as "locked".
var ErrUnavailable = errors.New("oracle unavailable")

// Source reads the unlock flag of one application.
type Source interface {
	IsUnlocked(ctx context.Context, appID uint64) (bool, error)
}
