package db

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("creates ledger schema", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, SQLite, nil))

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 3, count)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, SQLite, nil))
		require.NoError(t, Migrate(db, SQLite, nil), "running migrations multiple times should be safe")
	})

	t.Run("transactions are append-only", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()
		require.NoError(t, Migrate(db, SQLite, nil))

		_, err = db.Exec("INSERT INTO engines (name, created_at) VALUES ('alpha', CURRENT_TIMESTAMP)")
		require.NoError(t, err)
		_, err = db.Exec("INSERT INTO transactions (engine, kind, amount, created_at) VALUES ('alpha', 'job_run', 10000, CURRENT_TIMESTAMP)")
		require.NoError(t, err)

		_, err = db.Exec("UPDATE transactions SET amount = 0")
		assert.ErrorContains(t, err, "append-only")
		_, err = db.Exec("DELETE FROM transactions")
		assert.ErrorContains(t, err, "append-only")
	})

	t.Run("transactions require a registered engine", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()
		require.NoError(t, Migrate(db, SQLite, nil))

		_, err = db.Exec("INSERT INTO transactions (engine, kind, amount, created_at) VALUES ('ghost', 'job_run', 1, CURRENT_TIMESTAMP)")
		assert.Error(t, err)
	})

	t.Run("closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		err = Migrate(db, SQLite, nil)
		require.Error(t, err)
		assert.True(t, IsDatabaseClosed(err))
	})
}

func TestMigrate_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	exists := regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)")
	for _, version := range []string{"000", "001", "002"} {
		mock.ExpectQuery(exists).WithArgs(version).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}

	require.NoError(t, Migrate(db, Postgres, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
