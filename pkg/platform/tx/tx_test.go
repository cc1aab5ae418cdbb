package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE certificates").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = Run(context.Background(), db, func(ctx context.Context) error {
			_, ok := From(ctx)
			require.True(t, ok)
			_, err := ExecutorFrom(ctx, db).ExecContext(ctx, "UPDATE certificates SET status = 'UNLOCKED'")
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = Run(context.Background(), db, func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reuses an outer transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectBegin()
		mock.ExpectCommit()

		err = Run(context.Background(), db, func(ctx context.Context) error {
			outer, _ := From(ctx)
			return Run(ctx, db, func(inner context.Context) error {
				got, _ := From(inner)
				require.Same(t, outer, got)
				return nil
			})
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
