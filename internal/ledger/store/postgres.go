package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"trustcert/internal/ledger/models"
	"trustcert/internal/platform/postgres"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
	txcontext "trustcert/pkg/platform/tx"
)

// PostgresStore persists record_versions. The unique (subject, category,
// previous_hash) and (subject, category, sequence) indexes make the insert a
// compare-and-append: two writers that read the same head cannot both land.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, subject, category, sequence, value, recorded_at, issuer_id, previous_hash, data_hash`

func (s *PostgresStore) Append(ctx context.Context, rec *models.RecordVersion) error {
	query := `
		INSERT INTO record_versions (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		rec.Subject,
		rec.Category,
		rec.Sequence,
		rec.Value,
		rec.Timestamp,
		uuid.UUID(rec.Issuer),
		rec.PreviousHash,
		rec.DataHash,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert record version: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, key models.ChainKey) (*models.RecordVersion, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM record_versions
		WHERE subject = $1 AND category = $2
		ORDER BY sequence DESC
		LIMIT 1
	`
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, key.Subject, key.Category)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Chain(ctx context.Context, key models.ChainKey) ([]*models.RecordVersion, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM record_versions
		WHERE subject = $1 AND category = $2
		ORDER BY sequence ASC
	`
	return s.queryRecords(ctx, query, key.Subject, key.Category)
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject string) ([]*models.RecordVersion, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM record_versions
		WHERE subject = $1
		ORDER BY category ASC, sequence ASC
	`
	return s.queryRecords(ctx, query, subject)
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]*models.RecordVersion, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query record versions: %w", err)
	}
	defer rows.Close()

	out := []*models.RecordVersion{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record version: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record versions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.RecordVersion, error) {
	var (
		rec      models.RecordVersion
		recordID uuid.UUID
		issuerID uuid.UUID
	)
	if err := row.Scan(&recordID, &rec.Subject, &rec.Category, &rec.Sequence, &rec.Value,
		&rec.Timestamp, &issuerID, &rec.PreviousHash, &rec.DataHash); err != nil {
		return nil, err
	}
	rec.ID = id.RecordID(recordID)
	rec.Issuer = id.PrincipalID(issuerID)
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}
