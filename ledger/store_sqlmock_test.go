package ledger

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nexus/db"
	"github.com/teranos/nexus/errors"
)

func newMockStore(t *testing.T, dialect db.Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	fixed := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	return NewStore(conn, dialect, nil, WithNow(func() time.Time { return fixed })), mock
}

func TestCommitRun_PostgresSQL(t *testing.T) {
	store, mock := newMockStore(t, db.Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE engines SET total_earnings = total_earnings + $1, period_earnings = $2, status = $3, last_activity = $4`)).
		WithArgs(int64(1005000), int64(1005000), "active", sqlmock.AnyArg(), "alpha").
		WillReturnResult(sqlmock.NewResult(0, 1))
	insert := regexp.QuoteMeta(`INSERT INTO transactions (engine, kind, amount, description, run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`)
	mock.ExpectQuery(insert).
		WithArgs("alpha", "job_run", int64(1205000), "gross", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))
	mock.ExpectQuery(insert).
		WithArgs("alpha", "fee", int64(-200000), "fee", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	txs, err := store.CommitRun(context.Background(), "alpha", "run-1", []Entry{
		{Kind: "job_run", Amount: MustParseAmount("120.50"), Description: "gross"},
		{Kind: "fee", Amount: MustParseAmount("-20.00"), Description: "fee"},
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(41), txs[0].ID)
	assert.Equal(t, int64(42), txs[1].ID)
	assert.True(t, txs[1].CreatedAt.After(txs[0].CreatedAt), "fixed clock still yields increasing timestamps")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRun_InsertFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t, db.SQLite)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE engines SET total_earnings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO transactions").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := store.CommitRun(context.Background(), "alpha", "run-1", []Entry{
		{Kind: "job_run", Amount: 1},
		{Kind: "job_run", Amount: 2},
	})
	require.Error(t, err)
	assert.True(t, errors.IsStorageError(err))
	assert.Contains(t, err.Error(), "insert transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRun_CommitFailure(t *testing.T) {
	store, mock := newMockStore(t, db.SQLite)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE engines SET total_earnings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, err := store.CommitRun(context.Background(), "alpha", "run-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsStorageError(err))
}

func TestStorageErrorsAreNotRetried(t *testing.T) {
	store, mock := newMockStore(t, db.Postgres)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(amount), 0) FROM transactions")).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := store.TotalRevenue(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsStorageError(err))
	// A second query would be an unexpected call
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEngine_PostgresSQL(t *testing.T) {
	store, mock := newMockStore(t, db.Postgres)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + engineColumns + " FROM engines WHERE name = $1")).
		WithArgs("alpha").
		WillReturnRows(sqlmock.NewRows([]string{"name", "status", "last_activity", "total_earnings", "period_earnings", "config", "created_at"}).
			AddRow("alpha", "active", nil, int64(1005000), int64(1005000), `{"kind":"quote"}`, created))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + engineColumns + " FROM engines WHERE name = $1")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	e, err := store.GetEngine(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, e.Status)
	assert.Nil(t, e.LastActivity)
	assert.Equal(t, "100.50", e.TotalEarnings.String())
	assert.Equal(t, created, e.CreatedAt)

	_, err = store.GetEngine(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrUnknownEngine))
	assert.False(t, errors.IsStorageError(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEngineStatus_PostgresGuardsFailed(t *testing.T) {
	store, mock := newMockStore(t, db.Postgres)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE engines SET status = $1, last_activity = $2 WHERE name = $3 AND status <> 'failed'`)).
		WithArgs("starting", sqlmock.AnyArg(), "alpha").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateEngineStatus(context.Background(), "alpha", StatusStarting))
	assert.NoError(t, mock.ExpectationsWereMet())
}
