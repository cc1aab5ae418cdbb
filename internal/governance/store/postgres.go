package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"trustcert/internal/governance/models"
	"trustcert/internal/platform/postgres"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
	txcontext "trustcert/pkg/platform/tx"
)

const policyColumns = `id, name, description, activation_date, active, frozen, created_by, created_at, updated_at`

// PostgresStore persists governance policies.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Policy) error {
	query := `INSERT INTO governance_policies (` + policyColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID), p.Name, p.Description, p.ActivationDate, p.Active, p.Frozen,
		uuid.UUID(p.CreatedBy), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	return s.findOne(ctx, `SELECT `+policyColumns+` FROM governance_policies WHERE id = $1`, policyID)
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	return s.findOne(ctx, `SELECT `+policyColumns+` FROM governance_policies WHERE id = $1 FOR UPDATE`, policyID)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, policyID id.PolicyID) (*models.Policy, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(policyID))
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find policy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *models.Policy) error {
	query := `
		UPDATE governance_policies
		SET name = $2, description = $3, activation_date = $4, active = $5, frozen = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID), p.Name, p.Description, p.ActivationDate, p.Active, p.Frozen, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update policy rows: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM governance_policies ORDER BY created_at DESC, id ASC`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*models.Policy, error) {
	var (
		p         models.Policy
		policyID  uuid.UUID
		createdBy uuid.UUID
	)
	if err := row.Scan(&policyID, &p.Name, &p.Description, &p.ActivationDate, &p.Active, &p.Frozen,
		&createdBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PolicyID(policyID)
	p.CreatedBy = id.PrincipalID(createdBy)
	p.ActivationDate = p.ActivationDate.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
