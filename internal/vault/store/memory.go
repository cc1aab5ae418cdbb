package store

import (
	"context"
	"sort"
	"sync"

	"trustcert/internal/vault/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
)

// InMemoryStore keeps vaults in a map keyed by app id.
type InMemoryStore struct {
	mu     sync.RWMutex
	vaults map[uint64]*models.Vault
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{vaults: make(map[uint64]*models.Vault)}
}

// RunInTx runs fn directly. There is nothing to roll back in memory.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *InMemoryStore) Create(_ context.Context, v *models.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[v.AppID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *v
	s.vaults[v.AppID] = &cp
	return nil
}

func (s *InMemoryStore) FindByAppID(_ context.Context, appID uint64) (*models.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[appID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *InMemoryStore) MarkUnlocked(_ context.Context, appID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[appID]
	if !ok {
		return sentinel.ErrNotFound
	}
	v.MarkUnlocked()
	return nil
}

// ListByOwner returns the owner's vaults newest first.
func (s *InMemoryStore) ListByOwner(_ context.Context, owner id.PrincipalID) ([]*models.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Vault, 0)
	for _, v := range s.vaults {
		if v.Owner == owner {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].AppID > out[j].AppID
	})
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, appID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[appID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.vaults, appID)
	return nil
}
