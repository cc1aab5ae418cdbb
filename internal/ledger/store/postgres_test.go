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

	"trustcert/internal/ledger/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
)

var recordCols = []string{"id", "subject", "category", "sequence", "value", "recorded_at", "issuer_id", "previous_hash", "data_hash"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresStore_Append(t *testing.T) {
	key := models.ChainKey{Subject: "alice", Category: models.CategoryGrade}
	rec, err := models.NewRecordVersion(id.RecordID(uuid.New()), key, "85", id.PrincipalID(uuid.New()), time.Now(), nil)
	require.NoError(t, err)

	t.Run("inserts the record", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO record_versions").
			WithArgs(sqlmock.AnyArg(), "alice", "Grade", int64(1), "85", rec.Timestamp, sqlmock.AnyArg(), models.GenesisHash, rec.DataHash).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Append(context.Background(), rec))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO record_versions").WillReturnError(&pq.Error{Code: "23505"})

		err := store.Append(context.Background(), rec)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO record_versions").WillReturnError(errors.New("connection reset"))

		err := store.Append(context.Background(), rec)
		assert.ErrorContains(t, err, "insert record version")
		assert.NotErrorIs(t, err, sentinel.ErrConflict)
	})
}

func TestPostgresStore_Latest(t *testing.T) {
	key := models.ChainKey{Subject: "alice", Category: models.CategoryAttendance}

	t.Run("not found on empty chain", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM record_versions").WithArgs("alice", "Attendance").
			WillReturnRows(sqlmock.NewRows(recordCols))

		_, err := store.Latest(context.Background(), key)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("scans the head", func(t *testing.T) {
		store, mock := newMockStore(t)
		ts := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
		rid, issuer := uuid.New(), uuid.New()
		mock.ExpectQuery("ORDER BY sequence DESC").WithArgs("alice", "Attendance").
			WillReturnRows(sqlmock.NewRows(recordCols).
				AddRow(rid.String(), "alice", "Attendance", int64(3), "82", ts, issuer.String(), "prev", "hash"))

		rec, err := store.Latest(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, id.RecordID(rid), rec.ID)
		assert.Equal(t, id.PrincipalID(issuer), rec.Issuer)
		assert.Equal(t, int64(3), rec.Sequence)
		assert.Equal(t, "82", rec.Value)
		assert.Equal(t, ts, rec.Timestamp)
	})
}

func TestPostgresStore_Chain(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("ORDER BY sequence ASC").WithArgs("bob", "Grade").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow(uuid.NewString(), "bob", "Grade", int64(1), "85", ts, uuid.NewString(), models.GenesisHash, "h1").
			AddRow(uuid.NewString(), "bob", "Grade", int64(2), "90", ts, uuid.NewString(), "h1", "h2"))

	chain, err := store.Chain(context.Background(), models.ChainKey{Subject: "bob", Category: "Grade"})
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "h1", chain[1].PreviousHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}
