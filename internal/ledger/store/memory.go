package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"trustcert/internal/ledger/models"
	"trustcert/pkg/platform/sentinel"
)

// InMemoryStore keeps each chain as an append-only slice indexed by sequence-1.
type InMemoryStore struct {
	mu     sync.RWMutex
	chains map[models.ChainKey][]*models.RecordVersion
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{chains: make(map[models.ChainKey][]*models.RecordVersion)}
}

// Append adds rec only if it extends the current head: its sequence must be
// head+1 and its previous hash the head's data hash. Otherwise ErrConflict.
func (s *InMemoryStore) Append(_ context.Context, rec *models.RecordVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	chain := s.chains[key]
	expectedPrev := models.GenesisHash
	if n := len(chain); n > 0 {
		expectedPrev = chain[n-1].DataHash
	}
	if rec.Sequence != int64(len(chain)+1) || rec.PreviousHash != expectedPrev {
		return sentinel.ErrConflict
	}
	stored := *rec
	s.chains[key] = append(chain, &stored)
	return nil
}

func (s *InMemoryStore) Latest(_ context.Context, key models.ChainKey) (*models.RecordVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[key]
	if len(chain) == 0 {
		return nil, sentinel.ErrNotFound
	}
	rec := *chain[len(chain)-1]
	return &rec, nil
}

// Chain returns copies ordered oldest first. An unknown chain is empty, not an error.
func (s *InMemoryStore) Chain(_ context.Context, key models.ChainKey) ([]*models.RecordVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneChain(s.chains[key]), nil
}

// ListBySubject returns every record about subject grouped by category, each
// chain oldest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]*models.RecordVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var categories []string
	for key := range s.chains {
		if key.Subject == subject {
			categories = append(categories, key.Category)
		}
	}
	sort.Strings(categories)

	var out []*models.RecordVersion
	for _, c := range categories {
		out = append(out, cloneChain(s.chains[models.ChainKey{Subject: subject, Category: c}])...)
	}
	return out, nil
}

func cloneChain(chain []*models.RecordVersion) []*models.RecordVersion {
	out := make([]*models.RecordVersion, 0, len(chain))
	for _, r := range chain {
		c := *r
		out = append(out, &c)
	}
	return slices.Clip(out)
}
