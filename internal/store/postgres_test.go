package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS run_log`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Start(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO run_log`).
		WithArgs(pgxmock.AnyArg(), "access", "Satkhira", "urban", "shelter", "running", started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.Start(context.Background(), RunEntry{
		Stage: StageAccess, District: "Satkhira", Origin: "urban", Category: "shelter", StartedAt: started,
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Start_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_log`).
		WillReturnError(errors.New("connection refused"))

	_, err := s.Start(context.Background(), RunEntry{Stage: StageAggregate})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert run log entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Complete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_log SET status = \$1, row_count = \$2`).
		WithArgs("complete", int64(42), "abc").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.Complete(context.Background(), "abc", 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Complete_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_log`).
		WithArgs("complete", int64(1), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.Complete(context.Background(), "missing", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Fail(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_log SET status = \$1, error = \$2`).
		WithArgs("failed", "spatial: reference point set is empty", "abc").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.Fail(context.Background(), "abc", "spatial: reference point set is empty"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "stage", "district", "origin", "category", "status", "row_count", "error", "started_at", "finished_at"}).
		AddRow("e1", "access", "Barguna", "rural", "", "running", int64(0), "", started, nil)

	mock.ExpectQuery(`SELECT id, stage, district, origin, category, status, row_count, error, started_at, finished_at FROM run_log WHERE true AND stage = \$1 AND status = \$2 ORDER BY started_at DESC, id LIMIT \$3`).
		WithArgs("access", "running", 10).
		WillReturnRows(rows)

	entries, err := s.List(context.Background(), RunFilter{Stage: StageAccess, Status: StatusRunning, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, StageAccess, entries[0].Stage)
	assert.Equal(t, "Barguna", entries[0].District)
	assert.Equal(t, started, entries[0].StartedAt)
	assert.Nil(t, entries[0].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_DefaultLimitAndOffset(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM run_log WHERE true ORDER BY started_at DESC, id LIMIT \$1 OFFSET \$2`).
		WithArgs(100, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "stage", "district", "origin", "category", "status", "row_count", "error", "started_at", "finished_at"}))

	entries, err := s.List(context.Background(), RunFilter{Offset: 20})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	closed := false
	s := &PostgresStore{closeFn: func() { closed = true }}
	require.NoError(t, s.Close())
	assert.True(t, closed)
}
