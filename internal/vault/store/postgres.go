package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"trustcert/internal/platform/postgres"
	"trustcert/internal/vault/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
	txcontext "trustcert/pkg/platform/tx"
)

const vaultColumns = `app_id, owner_id, payload_ref, filename, beneficiary, sealed_key, unlock_time, status, created_at`

// PostgresStore persists vaults.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunInTx opens a transaction, or joins the one already in ctx.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

func (s *PostgresStore) Create(ctx context.Context, v *models.Vault) error {
	query := `INSERT INTO vaults (` + vaultColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		int64(v.AppID), uuid.UUID(v.Owner), v.PayloadRef, v.Filename, v.Beneficiary,
		v.SealedKey, v.UnlockTime, string(v.Status), v.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert vault: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByAppID(ctx context.Context, appID uint64) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE app_id = $1`
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, int64(appID))
	v, err := scanVault(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find vault: %w", err)
	}
	return v, nil
}

// MarkUnlocked only ever moves LOCKED to UNLOCKED; repeating it is a no-op.
func (s *PostgresStore) MarkUnlocked(ctx context.Context, appID uint64) error {
	query := `UPDATE vaults SET status = 'UNLOCKED' WHERE app_id = $1`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query, int64(appID))
	if err != nil {
		return fmt.Errorf("unlock vault: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlock vault rows: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.PrincipalID) ([]*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE owner_id = $1 ORDER BY created_at DESC, app_id DESC`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, uuid.UUID(owner))
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Vault, 0)
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vaults: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, appID uint64) error {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `DELETE FROM vaults WHERE app_id = $1`, int64(appID))
	if err != nil {
		return fmt.Errorf("delete vault: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete vault rows: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVault(row scanner) (*models.Vault, error) {
	var (
		v      models.Vault
		appID  int64
		owner  uuid.UUID
		status string
	)
	if err := row.Scan(&appID, &owner, &v.PayloadRef, &v.Filename, &v.Beneficiary,
		&v.SealedKey, &v.UnlockTime, &status, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.AppID = uint64(appID)
	v.Owner = id.PrincipalID(owner)
	v.Status = models.Status(status)
	v.UnlockTime = v.UnlockTime.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}
