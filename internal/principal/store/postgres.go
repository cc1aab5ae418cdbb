package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"trustcert/internal/platform/postgres"
	"trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
	txcontext "trustcert/pkg/platform/tx"
)

// PostgresStore persists principals.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, p *models.Principal) error {
	query := `
		INSERT INTO principals (id, username, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, role = EXCLUDED.role
	`
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID), p.Username, p.Role, p.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("save principal: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, principalID id.PrincipalID) (*models.Principal, error) {
	query := `SELECT id, username, role, created_at FROM principals WHERE id = $1`
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(principalID))
	return scanOne(row, "find principal by id")
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*models.Principal, error) {
	query := `SELECT id, username, role, created_at FROM principals WHERE lower(username) = $1`
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, models.NormalizeUsername(username))
	return scanOne(row, "find principal by username")
}

func (s *PostgresStore) ListByRole(ctx context.Context, role string) ([]*models.Principal, error) {
	query := `SELECT id, username, role, created_at FROM principals WHERE role = $1 ORDER BY username`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	defer rows.Close()

	var out []*models.Principal
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate principals: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.Principal, error) {
	var (
		p   models.Principal
		pid uuid.UUID
	)
	if err := row.Scan(&pid, &p.Username, &p.Role, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PrincipalID(pid)
	return &p, nil
}

func scanOne(row *sql.Row, op string) (*models.Principal, error) {
	p, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
