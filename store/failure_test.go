package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/easyjob/errors"
)

// Minimal sqlmock tests for the paths a real SQLite file rarely takes

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, nil), mock
}

func TestFindOne_QueryErrorIsWrapped(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, body FROM documents WHERE collection = \\?").
		WithArgs("Job", int64(100001), int64(1), int64(0)).
		WillReturnError(errors.New("disk I/O error"))

	_, err := s.Jobs().FindOne(context.Background(), Filter{"JobId": 100001})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query Job")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.False(t, errors.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_WriteFailureLeavesNoPartialState(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, body FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(7, `{"RunId": 100001, "Status": 2}`))
	mock.ExpectExec("UPDATE documents SET body = \\?").
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnError(errors.New("database is locked"))

	_, err := s.History().Upsert(context.Background(), Document{"RunId": 100001, "Status": 3}, "RunId")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update document 7 in History")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMany_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO collections").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT OR IGNORE INTO collections").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	_, err := s.History().InsertMany(context.Background(), []interface{}{
		Document{"RunId": 1},
		Document{"RunId": 2},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
