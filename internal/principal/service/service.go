// Package service is the principal directory: lookup by id or username,
// role listing, and registration of seed principals.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/sentinel"
	"trustcert/pkg/requestcontext"
)

type Store interface {
	Save(ctx context.Context, p *models.Principal) error
	FindByID(ctx context.Context, principalID id.PrincipalID) (*models.Principal, error)
	FindByUsername(ctx context.Context, username string) (*models.Principal, error)
	ListByRole(ctx context.Context, role string) ([]*models.Principal, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// principalNamespace derives stable ids from usernames so seeded principals
// keep their id across restarts of a memory-backed server.
var principalNamespace = uuid.MustParse("5b0c1e4a-7f0e-4d43-9a3c-2f6b1d8e9c10")

func StableID(username string) id.PrincipalID {
	return id.PrincipalID(uuid.NewSHA1(principalNamespace, []byte(models.NormalizeUsername(username))))
}

func (s *Service) Register(ctx context.Context, username, role string) (*models.Principal, error) {
	p, err := models.NewPrincipal(StableID(username), username, role, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "username already taken")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save principal")
	}
	return p, nil
}

func (s *Service) FindByID(ctx context.Context, principalID id.PrincipalID) (*models.Principal, error) {
	p, err := s.store.FindByID(ctx, principalID)
	return translate(p, err)
}

func (s *Service) FindByUsername(ctx context.Context, username string) (*models.Principal, error) {
	p, err := s.store.FindByUsername(ctx, username)
	return translate(p, err)
}

func (s *Service) ListByRole(ctx context.Context, role string) ([]*models.Principal, error) {
	if !models.ValidRole(role) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid role")
	}
	out, err := s.store.ListByRole(ctx, role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list principals")
	}
	return out, nil
}

// SubjectExists reports whether subject names a student principal.
func (s *Service) SubjectExists(ctx context.Context, subject string) (bool, error) {
	p, err := s.store.FindByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Role == models.RoleStudent, nil
}

// Seed is one principal created at startup.
type Seed struct {
	Username string
	Role     string
}

// DemoSeeds populate a fresh environment with one of each role.
var DemoSeeds = []Seed{
	{Username: "admin", Role: models.RoleAdmin},
	{Username: "prof.smith", Role: models.RoleFaculty},
	{Username: "prof.jones", Role: models.RoleFaculty},
	{Username: "alice", Role: models.RoleStudent},
	{Username: "bob", Role: models.RoleStudent},
}

// SeedPrincipals registers seeds, skipping usernames that already exist.
func (s *Service) SeedPrincipals(ctx context.Context, seeds []Seed) error {
	for _, seed := range seeds {
		if _, err := s.store.FindByUsername(ctx, seed.Username); err == nil {
			continue
		}
		p, err := s.Register(ctx, seed.Username, seed.Role)
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "seeded principal",
			"username", p.Username,
			"role", p.Role,
			"principal_id", p.ID.String(),
		)
	}
	return nil
}

func translate(p *models.Principal, err error) (*models.Principal, error) {
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "principal not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principal")
	}
	return p, nil
}
