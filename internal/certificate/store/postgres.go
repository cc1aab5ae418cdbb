package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"trustcert/internal/certificate/models"
	"trustcert/internal/platform/postgres"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
	txcontext "trustcert/pkg/platform/tx"
)

// PostgresStore persists certificates and their conditions. A certificate
// and its conditions are always written in one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const certificateColumns = `id, title, subject, issuer_id, status, payload_ref, payload_key, created_at, unlocked_at`

const conditionColumns = `id, certificate_id, position, kind, target, current_value, met, description, role, target_recipient`

// RunInTx opens a transaction, or joins the one already in ctx.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

func (s *PostgresStore) Create(ctx context.Context, cert *models.Certificate) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO certificates (`+certificateColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			uuid.UUID(cert.ID),
			cert.Title,
			cert.Subject,
			uuid.UUID(cert.Issuer),
			string(cert.Status),
			cert.PayloadRef,
			cert.PayloadKey,
			cert.CreatedAt,
			cert.UnlockedAt,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert certificate: %w", err)
		}
		for _, cond := range cert.Conditions {
			var recipient any
			if cond.IsTargeted() {
				recipient = uuid.UUID(*cond.TargetRecipient)
			}
			_, err := exec.ExecContext(ctx, `
				INSERT INTO conditions (`+conditionColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`,
				uuid.UUID(cond.ID),
				uuid.UUID(cert.ID),
				cond.Position,
				string(cond.Kind),
				cond.Target,
				cond.Current,
				cond.Met,
				cond.Description,
				cond.Role,
				recipient,
			)
			if err != nil {
				return fmt.Errorf("insert condition %d: %w", cond.Position, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	return s.findOne(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, certID)
}

// FindByIDForUpdate row-locks the certificate until the surrounding
// transaction ends. Called outside RunInTx the lock is released immediately.
func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	return s.findOne(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1 FOR UPDATE`, certID)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, certID id.CertificateID) (*models.Certificate, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(certID))
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	if err := s.attachConditions(ctx, []*models.Certificate{cert}); err != nil {
		return nil, err
	}
	return cert, nil
}

// Update writes status, unlock time, and condition progress. Identity fields
// and the condition set never change after Create.
func (s *PostgresStore) Update(ctx context.Context, cert *models.Certificate) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		res, err := exec.ExecContext(ctx, `
			UPDATE certificates SET status = $2, unlocked_at = $3 WHERE id = $1
		`, uuid.UUID(cert.ID), string(cert.Status), cert.UnlockedAt)
		if err != nil {
			return fmt.Errorf("update certificate: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sentinel.ErrNotFound
		}
		for _, cond := range cert.Conditions {
			_, err := exec.ExecContext(ctx, `
				UPDATE conditions SET met = $3, current_value = $4
				WHERE certificate_id = $1 AND id = $2
			`, uuid.UUID(cert.ID), uuid.UUID(cond.ID), cond.Met, cond.Current)
			if err != nil {
				return fmt.Errorf("update condition %d: %w", cond.Position, err)
			}
		}
		return nil
	})
}

// ListBySubject returns the subject's certificates newest first.
func (s *PostgresStore) ListBySubject(ctx context.Context, subject string) ([]*models.Certificate, error) {
	return s.queryCertificates(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates
		WHERE subject = $1
		ORDER BY created_at DESC, id ASC
	`, subject)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Certificate, error) {
	return s.queryCertificates(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates
		ORDER BY created_at DESC, id ASC
	`)
}

func (s *PostgresStore) ListWithPendingApprovals(ctx context.Context) ([]*models.Certificate, error) {
	return s.queryCertificates(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates c
		WHERE c.status = 'LOCKED'
		  AND EXISTS (
			SELECT 1 FROM conditions k
			WHERE k.certificate_id = c.id AND k.kind = 'approval' AND k.met = false
		  )
		ORDER BY c.created_at DESC, c.id ASC
	`)
}

func (s *PostgresStore) ListLockedIDs(ctx context.Context) ([]id.CertificateID, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM certificates WHERE status = 'LOCKED' ORDER BY created_at ASC
	`)
}

func (s *PostgresStore) ListLockedIDsBySubject(ctx context.Context, subject string) ([]id.CertificateID, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM certificates WHERE status = 'LOCKED' AND subject = $1 ORDER BY created_at ASC
	`, subject)
}

// Delete removes a certificate; its conditions go with it via ON DELETE CASCADE.
func (s *PostgresStore) Delete(ctx context.Context, certID id.CertificateID) error {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `DELETE FROM certificates WHERE id = $1`, uuid.UUID(certID))
	if err != nil {
		return fmt.Errorf("delete certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete certificate rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) queryCertificates(ctx context.Context, query string, args ...any) ([]*models.Certificate, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query certificates: %w", err)
	}
	defer rows.Close()

	out := []*models.Certificate{}
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	if err := s.attachConditions(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) queryIDs(ctx context.Context, query string, args ...any) ([]id.CertificateID, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query certificate ids: %w", err)
	}
	defer rows.Close()

	out := []id.CertificateID{}
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan certificate id: %w", err)
		}
		out = append(out, id.CertificateID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificate ids: %w", err)
	}
	return out, nil
}

// attachConditions loads conditions for every certificate in one query.
func (s *PostgresStore) attachConditions(ctx context.Context, certs []*models.Certificate) error {
	if len(certs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Certificate, len(certs))
	keys := make([]string, 0, len(certs))
	for _, c := range certs {
		byID[uuid.UUID(c.ID)] = c
		keys = append(keys, c.ID.String())
	}

	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT `+conditionColumns+`
		FROM conditions
		WHERE certificate_id = ANY($1::uuid[])
		ORDER BY certificate_id, position ASC
	`, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cond      models.Condition
			condID    uuid.UUID
			certID    uuid.UUID
			kind      string
			recipient uuid.NullUUID
		)
		if err := rows.Scan(&condID, &certID, &cond.Position, &kind, &cond.Target, &cond.Current,
			&cond.Met, &cond.Description, &cond.Role, &recipient); err != nil {
			return fmt.Errorf("scan condition: %w", err)
		}
		cond.ID = id.ConditionID(condID)
		cond.Kind = models.Kind(kind)
		if recipient.Valid {
			pid := id.PrincipalID(recipient.UUID)
			cond.TargetRecipient = &pid
		}
		cert, ok := byID[certID]
		if !ok {
			continue
		}
		cert.Conditions = append(cert.Conditions, &cond)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate conditions: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	var (
		cert       models.Certificate
		certID     uuid.UUID
		issuerID   uuid.UUID
		status     string
		unlockedAt sql.NullTime
	)
	if err := row.Scan(&certID, &cert.Title, &cert.Subject, &issuerID, &status,
		&cert.PayloadRef, &cert.PayloadKey, &cert.CreatedAt, &unlockedAt); err != nil {
		return nil, err
	}
	cert.ID = id.CertificateID(certID)
	cert.Issuer = id.PrincipalID(issuerID)
	cert.Status = models.Status(status)
	cert.CreatedAt = cert.CreatedAt.UTC()
	if unlockedAt.Valid {
		at := unlockedAt.Time.UTC()
		cert.UnlockedAt = &at
	}
	cert.Conditions = []*models.Condition{}
	return &cert, nil
}
