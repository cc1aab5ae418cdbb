package service

import (
	"context"
	"time"

	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/shardlock"
)

// numCertificateShards spreads certificates over a fixed set of locks.
const numCertificateShards = 128

const defaultCertificateTxTimeout = 5 * time.Second

// certificateTx serializes read-decide-write cycles per certificate inside one
// process, then hands off to the store's transaction. Across processes the
// Postgres row lock does the same job.
type certificateTx struct {
	shards  *shardlock.Set
	store   Store
	timeout time.Duration
}

func (t *certificateTx) RunInTx(ctx context.Context, certID id.CertificateID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultCertificateTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	unlock, err := t.shards.Lock(ctx, hashCertificateID(certID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: timed out waiting for certificate lock")
	}
	defer unlock()
	return t.store.RunInTx(ctx, fn)
}

// hashCertificateID is FNV-1a over the id bytes.
func hashCertificateID(certID id.CertificateID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range certID {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}
