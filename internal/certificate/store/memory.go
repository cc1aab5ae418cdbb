package store

import (
	"context"
	"sort"
	"sync"

	"trustcert/internal/certificate/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
)

// InMemoryStore keeps certificates keyed by id. Every read and write goes
// through Clone so callers never share condition pointers with the store.
type InMemoryStore struct {
	mu    sync.RWMutex
	certs map[id.CertificateID]*models.Certificate
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{certs: make(map[id.CertificateID]*models.Certificate)}
}

func (s *InMemoryStore) Create(_ context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[cert.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.certs[cert.ID] = cert.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cert.Clone(), nil
}

// FindByIDForUpdate is FindByID; in memory the caller's certificate lock is
// the only serialization needed.
func (s *InMemoryStore) FindByIDForUpdate(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	return s.FindByID(ctx, certID)
}

// Update persists status, unlock time and per-condition progress. Identity
// fields and the condition set are immutable after Create.
func (s *InMemoryStore) Update(_ context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.certs[cert.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if len(existing.Conditions) != len(cert.Conditions) {
		return sentinel.ErrInvalidState
	}
	next := existing.Clone()
	next.Status = cert.Status
	next.UnlockedAt = nil
	if cert.UnlockedAt != nil {
		at := *cert.UnlockedAt
		next.UnlockedAt = &at
	}
	for i, cond := range cert.Conditions {
		next.Conditions[i].Met = cond.Met
		next.Conditions[i].Current = cond.Current
	}
	s.certs[cert.ID] = next
	return nil
}

// ListBySubject returns the subject's certificates newest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(c *models.Certificate) bool { return c.Subject == subject }), nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(*models.Certificate) bool { return true }), nil
}

// ListWithPendingApprovals returns LOCKED certificates holding at least one
// unmet approval condition.
func (s *InMemoryStore) ListWithPendingApprovals(_ context.Context) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(c *models.Certificate) bool {
		if c.IsUnlocked() {
			return false
		}
		for _, cond := range c.Conditions {
			if cond.Kind == models.KindApproval && !cond.Met {
				return true
			}
		}
		return false
	}), nil
}

func (s *InMemoryStore) ListLockedIDs(_ context.Context) ([]id.CertificateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ids(s.collect(func(c *models.Certificate) bool { return !c.IsUnlocked() })), nil
}

func (s *InMemoryStore) ListLockedIDsBySubject(_ context.Context, subject string) ([]id.CertificateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ids(s.collect(func(c *models.Certificate) bool {
		return !c.IsUnlocked() && c.Subject == subject
	})), nil
}

func (s *InMemoryStore) Delete(_ context.Context, certID id.CertificateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[certID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.certs, certID)
	return nil
}

// RunInTx runs fn directly. There is nothing to roll back in memory.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// collect must be called with mu held.
func (s *InMemoryStore) collect(keep func(*models.Certificate) bool) []*models.Certificate {
	out := []*models.Certificate{}
	for _, cert := range s.certs {
		if keep(cert) {
			out = append(out, cert.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func ids(certs []*models.Certificate) []id.CertificateID {
	out := make([]id.CertificateID, 0, len(certs))
	for _, c := range certs {
		out = append(out, c.ID)
	}
	return out
}
