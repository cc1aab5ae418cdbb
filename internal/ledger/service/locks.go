package service

import (
	"context"
	"time"

	"trustcert/internal/ledger/models"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/shardlock"
)

// numChainShards spreads chains over a fixed set of locks. Two chains that
// share a shard serialize needlessly but never incorrectly.
const numChainShards = 128

const defaultAppendTimeout = 5 * time.Second

// chainLocks serializes appends per (subject, category) inside one process.
// Cross-process races are caught by the store's compare-and-append.
type chainLocks struct {
	shards  *shardlock.Set
	timeout time.Duration
}

func newChainLocks() *chainLocks {
	return &chainLocks{shards: shardlock.New(numChainShards)}
}

func (l *chainLocks) withChain(ctx context.Context, key models.ChainKey, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "append aborted: context cancelled")
	}

	timeout := l.timeout
	if timeout == 0 {
		timeout = defaultAppendTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	unlock, err := l.shards.Lock(ctx, hashChainKey(key))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "append aborted: timed out waiting for chain lock")
	}
	defer unlock()
	return fn(ctx)
}

// hashChainKey is FNV-1a over subject, a separator, and category.
func hashChainKey(key models.ChainKey) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	mix := func(s string) {
		for i := 0; i < len(s); i++ {
			h ^= uint32(s[i])
			h *= fnvPrime
		}
	}
	mix(key.Subject)
	h ^= 0
	h *= fnvPrime
	mix(key.Category)
	return h
}
