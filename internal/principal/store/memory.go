package store

import (
	"context"
	"sort"
	"sync"

	"trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
)

// InMemoryStore indexes principals by id and by normalized username.
type InMemoryStore struct {
	mu         sync.RWMutex
	byID       map[id.PrincipalID]*models.Principal
	byUsername map[string]id.PrincipalID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[id.PrincipalID]*models.Principal),
		byUsername: make(map[string]id.PrincipalID),
	}
}

// Save inserts p. A taken username returns ErrAlreadyUsed.
func (s *InMemoryStore) Save(_ context.Context, p *models.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.NormalizeUsername(p.Username)
	if existing, ok := s.byUsername[key]; ok && existing != p.ID {
		return sentinel.ErrAlreadyUsed
	}
	stored := *p
	s.byID[p.ID] = &stored
	s.byUsername[key] = p.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, principalID id.PrincipalID) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[principalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *InMemoryStore) FindByUsername(_ context.Context, username string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.byUsername[models.NormalizeUsername(username)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *s.byID[pid]
	return &out, nil
}

// ListByRole returns principals holding role ordered by username.
func (s *InMemoryStore) ListByRole(_ context.Context, role string) ([]*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Principal
	for _, p := range s.byID {
		if p.Role == role {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
