package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcert/internal/certificate/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
)

var (
	certificateCols = []string{"id", "title", "subject", "issuer_id", "status", "payload_ref", "payload_key", "created_at", "unlocked_at"}
	conditionCols   = []string{"id", "certificate_id", "position", "kind", "target", "current_value", "met", "description", "role", "target_recipient"}
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func sampleCertificate(t *testing.T) *models.Certificate {
	t.Helper()
	approver := id.PrincipalID(uuid.New())
	cert, err := models.NewCertificate(id.CertificateID(uuid.New()), "Diploma", "alice", id.PrincipalID(uuid.New()),
		[]models.Spec{
			{Kind: models.KindAttendance, Target: "80", Description: "Attendance greater than 80%"},
			{Kind: models.KindApproval, Role: models.ApprovalRoleFaculty, Description: "Requires Approval from prof.smith", TargetRecipient: &approver},
		},
		"ipfs://cid", "sealed", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return cert
}

func TestPostgresStore_Create(t *testing.T) {
	cert := sampleCertificate(t)

	t.Run("writes certificate and conditions in one transaction", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO certificates").
			WithArgs(sqlmock.AnyArg(), "Diploma", "alice", sqlmock.AnyArg(), "LOCKED", "ipfs://cid", "sealed", cert.CreatedAt, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO conditions").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 0, "attendance", "80", "", false, "Attendance greater than 80%", "", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO conditions").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 1, "approval", "", "", false, "Requires Approval from prof.smith", "faculty", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Create(context.Background(), cert))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO certificates").WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := store.Create(context.Background(), cert)
		assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("condition failure rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO certificates").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO conditions").WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := store.Create(context.Background(), cert)
		assert.ErrorContains(t, err, "insert condition 0")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_FindByID(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM certificates WHERE id").WillReturnRows(sqlmock.NewRows(certificateCols))

		_, err := store.FindByID(context.Background(), id.CertificateID(uuid.New()))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("loads conditions in position order", func(t *testing.T) {
		store, mock := newMockStore(t)
		certID, issuer, approver := uuid.New(), uuid.New(), uuid.New()
		created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
		unlocked := created.Add(time.Hour)

		mock.ExpectQuery("FROM certificates WHERE id").
			WithArgs(certID).
			WillReturnRows(sqlmock.NewRows(certificateCols).
				AddRow(certID.String(), "Diploma", "alice", issuer.String(), "UNLOCKED", "ipfs://cid", "sealed", created, unlocked))
		mock.ExpectQuery("FROM conditions").
			WillReturnRows(sqlmock.NewRows(conditionCols).
				AddRow(uuid.NewString(), certID.String(), 0, "grade", "b", "a", true, "Grade better than b", "", nil).
				AddRow(uuid.NewString(), certID.String(), 1, "approval", "", "Approved by prof.smith at 2026-02-01T11:00:00Z", true, "Requires Approval from prof.smith", "faculty", approver.String()))

		cert, err := store.FindByID(context.Background(), id.CertificateID(certID))
		require.NoError(t, err)
		assert.Equal(t, models.StatusUnlocked, cert.Status)
		assert.Equal(t, id.PrincipalID(issuer), cert.Issuer)
		require.NotNil(t, cert.UnlockedAt)
		assert.True(t, unlocked.Equal(*cert.UnlockedAt))
		require.Len(t, cert.Conditions, 2)
		assert.Equal(t, models.KindGrade, cert.Conditions[0].Kind)
		assert.Nil(t, cert.Conditions[0].TargetRecipient)
		require.NotNil(t, cert.Conditions[1].TargetRecipient)
		assert.Equal(t, id.PrincipalID(approver), *cert.Conditions[1].TargetRecipient)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("for update locks the row", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FOR UPDATE").WillReturnError(errors.New("lock timeout"))

		_, err := store.FindByIDForUpdate(context.Background(), id.CertificateID(uuid.New()))
		assert.ErrorContains(t, err, "find certificate")
	})
}

func TestPostgresStore_Update(t *testing.T) {
	cert := sampleCertificate(t)
	cert.Conditions[0].Met = true
	cert.Conditions[0].Current = "85"

	t.Run("writes status and each condition", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE certificates SET status").
			WithArgs(sqlmock.AnyArg(), "LOCKED", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE conditions SET met").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), true, "85").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE conditions SET met").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), false, "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Update(context.Background(), cert))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing certificate", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE certificates SET status").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, store.Update(context.Background(), cert), sentinel.ErrNotFound)
	})
}

func TestPostgresStore_Listings(t *testing.T) {
	t.Run("empty subject skips the conditions query", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("WHERE subject = \\$1").WithArgs("carol").WillReturnRows(sqlmock.NewRows(certificateCols))

		certs, err := store.ListBySubject(context.Background(), "carol")
		require.NoError(t, err)
		assert.Empty(t, certs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locked ids", func(t *testing.T) {
		store, mock := newMockStore(t)
		a, b := uuid.New(), uuid.New()
		mock.ExpectQuery("WHERE status = 'LOCKED' AND subject").WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a.String()).AddRow(b.String()))

		ids, err := store.ListLockedIDsBySubject(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, []id.CertificateID{id.CertificateID(a), id.CertificateID(b)}, ids)
	})

	t.Run("pending approvals filter on unmet approval conditions", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("k.kind = 'approval' AND k.met = false").WillReturnRows(sqlmock.NewRows(certificateCols))

		certs, err := store.ListWithPendingApprovals(context.Background())
		require.NoError(t, err)
		assert.Empty(t, certs)
	})
}

func TestPostgresStore_Delete(t *testing.T) {
	t.Run("deletes", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("DELETE FROM certificates").WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, store.Delete(context.Background(), id.CertificateID(uuid.New())))
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("DELETE FROM certificates").WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.Delete(context.Background(), id.CertificateID(uuid.New())), sentinel.ErrNotFound)
	})
}
