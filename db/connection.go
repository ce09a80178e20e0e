package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/nexus/errors"
)

// SQLiteBusyTimeoutMS is how long a SQLite connection waits on a locked database
const SQLiteBusyTimeoutMS = 5000

// Drivers accepted by Connect
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open opens a SQLite database at the specified path.
// Pragmas are passed in the DSN so every pooled connection gets them, and
// transactions take the write lock up front (_txlock=immediate) to avoid
// upgrade deadlocks between concurrent writers.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}

	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	dsn := sqliteDSN(path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if memory {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"wal_mode", !memory,
			"foreign_keys", true,
		)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", fmt.Sprint(SQLiteBusyTimeoutMS))
	params.Set("_txlock", "immediate")
	if path != ":memory:" {
		params.Set("_journal_mode", "WAL")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if path == ":memory:" {
		return "file::memory:" + sep + params.Encode()
	}
	return path + sep + params.Encode()
}

// OpenPostgres opens a PostgreSQL database through lib/pq and verifies the
// connection within a short deadline.
func OpenPostgres(dsn string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	if logger != nil {
		logger.Infow("Postgres connection established")
	}
	return db, nil
}

// Connect opens the configured backend and applies pending migrations.
// target is the SQLite path or the Postgres DSN.
func Connect(driver, target string, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)

	switch driver {
	case "", DriverSQLite:
		dialect = SQLite
		db, err = Open(target, logger)
	case DriverPostgres:
		dialect = Postgres
		db, err = OpenPostgres(target, logger)
	default:
		return nil, "", errors.Newf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, "", err
	}

	if err := Migrate(db, dialect, logger); err != nil {
		db.Close()
		return nil, "", errors.Wrap(err, "failed to run migrations")
	}
	return db, dialect, nil
}
