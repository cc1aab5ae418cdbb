package store

import (
	"context"
	"sort"
	"sync"

	"trustcert/internal/governance/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
)

// InMemoryStore keeps policies in a map. RunInTx serializes writers, which
// stands in for the row lock the Postgres store takes.
type InMemoryStore struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	policies map[id.PolicyID]*models.Policy
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{policies: make(map[id.PolicyID]*models.Policy)}
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx)
}

func (s *InMemoryStore) Create(_ context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, policyID id.PolicyID) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) FindByIDForUpdate(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	return s.FindByID(ctx, policyID)
}

func (s *InMemoryStore) Update(_ context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

// List returns every policy, newest first.
func (s *InMemoryStore) List(_ context.Context) ([]*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
