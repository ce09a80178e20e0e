// Package ledger is the durable record of engines and their transactions.
//
// The Store is the only writer of the engines and transactions tables. Every
// write runs in a database transaction so readers never observe a partial
// state: a run's entries, the engine's totals and its status change together.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nexus/db"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
)

// MaxListLimit bounds every list query
const MaxListLimit = 1000

// Store persists engines and transactions
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	clock   *clock
	logger  *zap.SugaredLogger
}

// Option configures a Store
type Option func(*Store)

// WithNow overrides the time source (tests)
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.clock = newClock(now) }
}

// NewStore creates a ledger store over an open, migrated database
func NewStore(conn *sql.DB, dialect db.Dialect, log *zap.SugaredLogger, opts ...Option) *Store {
	if log == nil {
		log = logger.Logger
	}
	s := &Store{
		db:      conn,
		dialect: dialect,
		clock:   newClock(nil),
		logger:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const engineColumns = "name, status, last_activity, total_earnings, period_earnings, config, created_at"
const transactionColumns = "id, engine, kind, amount, description, run_id, created_at"

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// storageErr marks err as a storage failure. A closed database is also marked
// ErrDatabaseClosed so shutdown paths can recognise it.
func storageErr(err error, context string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.WrapStorage(err, context)
	if db.IsDatabaseClosed(err) {
		wrapped = errors.Mark(wrapped, db.ErrDatabaseClosed)
	}
	return wrapped
}

// UpsertEngine creates the engine with status inactive if absent.
// An existing engine is left untouched, config included.
func (s *Store) UpsertEngine(ctx context.Context, name string, config json.RawMessage) (*Engine, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.NewValidationError("engine", "name is required")
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	if !json.Valid(config) {
		return nil, errors.NewValidationError("config", "must be valid JSON")
	}

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO engines (name, status, config, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`),
		name, string(StatusInactive), string(config), s.clock.Now())
	if err != nil {
		return nil, storageErr(err, "upsert engine")
	}

	return s.GetEngine(ctx, name)
}

// GetEngine returns the engine, or an error matching ErrUnknownEngine
func (s *Store) GetEngine(ctx context.Context, name string) (*Engine, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+engineColumns+" FROM engines WHERE name = ?"), name)
	e, err := scanEngine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewUnknownEngineError(name)
	}
	if err != nil {
		return nil, storageErr(err, "get engine")
	}
	return e, nil
}

// ListEngines returns every engine ordered by name
func (s *Store) ListEngines(ctx context.Context) ([]Engine, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+engineColumns+" FROM engines ORDER BY name")
	if err != nil {
		return nil, storageErr(err, "list engines")
	}
	defer rows.Close()

	var engines []Engine
	for rows.Next() {
		e, err := scanEngine(rows)
		if err != nil {
			return nil, storageErr(err, "scan engine")
		}
		engines = append(engines, *e)
	}
	return engines, storageErr(rows.Err(), "list engines")
}

// UpdateEngineStatus sets status and last_activity = now.
// A failed engine only leaves failed through a reset to inactive; any other
// transition out of failed returns ErrEngineFailed.
func (s *Store) UpdateEngineStatus(ctx context.Context, name string, status Status) error {
	if !status.Valid() {
		return errors.NewValidationError("status", "unknown status %q", status)
	}

	query := `UPDATE engines SET status = ?, last_activity = ? WHERE name = ?`
	if status != StatusInactive && status != StatusFailed {
		query += ` AND status <> 'failed'`
	}
	res, err := s.db.ExecContext(ctx, s.q(query), string(status), s.clock.Now(), name)
	if err != nil {
		return storageErr(err, "update engine status")
	}

	if n, err := res.RowsAffected(); err != nil {
		return storageErr(err, "update engine status")
	} else if n == 1 {
		return nil
	}

	// Nothing updated: either the engine is unknown or it is failed
	if _, err := s.GetEngine(ctx, name); err != nil {
		return err
	}
	return errors.Wrapf(errors.ErrEngineFailed, "engine %q: reset required before status %q", name, status)
}

// ResetEngine moves an engine back to inactive, clearing a failed status
func (s *Store) ResetEngine(ctx context.Context, name string) error {
	return s.UpdateEngineStatus(ctx, name, StatusInactive)
}

// AppendTransaction records a single transaction and adds it to the engine's
// cumulative earnings. Durable once it returns.
func (s *Store) AppendTransaction(ctx context.Context, engine, kind string, amount Amount, description string) (*Transaction, error) {
	txs, err := s.write(ctx, engine, "", []Entry{{Kind: kind, Amount: amount, Description: description}}, false)
	if err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// CommitRun atomically records the entries of one successful run: all
// transactions in order, total_earnings += sum, period_earnings = sum and
// status active. Either everything is visible afterwards or nothing is.
func (s *Store) CommitRun(ctx context.Context, engine, runID string, entries []Entry) ([]Transaction, error) {
	return s.write(ctx, engine, runID, entries, true)
}

func validateEntries(entries []Entry) (Amount, error) {
	var sum Amount
	for i, e := range entries {
		if strings.TrimSpace(e.Kind) == "" {
			return 0, errors.NewValidationError("kind", "entry %d: kind is required", i)
		}
		var err error
		if sum, err = sum.Add(e.Amount); err != nil {
			return 0, errors.Mark(err, errors.ErrValidation)
		}
	}
	return sum, nil
}

func (s *Store) write(ctx context.Context, engine, runID string, entries []Entry, completesRun bool) (txs []Transaction, err error) {
	sum, err := validateEntries(entries)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.clock.Now()
	var res sql.Result
	if completesRun {
		res, err = tx.ExecContext(ctx, s.q(
			`UPDATE engines SET total_earnings = total_earnings + ?, period_earnings = ?, status = ?, last_activity = ?
			 WHERE name = ?`),
			int64(sum), int64(sum), string(StatusActive), now, engine)
	} else {
		res, err = tx.ExecContext(ctx, s.q(
			`UPDATE engines SET total_earnings = total_earnings + ? WHERE name = ?`),
			int64(sum), engine)
	}
	if err != nil {
		return nil, storageErr(err, "update engine totals")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr(err, "update engine totals")
	}
	if n == 0 {
		err = errors.NewUnknownEngineError(engine)
		return nil, err
	}

	var run sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}

	insert := s.q(`INSERT INTO transactions (engine, kind, amount, description, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	txs = make([]Transaction, 0, len(entries))
	for _, e := range entries {
		created := s.clock.Now()
		var id int64
		if err = tx.QueryRowContext(ctx, insert, engine, e.Kind, int64(e.Amount), e.Description, run, created).Scan(&id); err != nil {
			return nil, storageErr(err, "insert transaction")
		}
		txs = append(txs, Transaction{
			ID:          id,
			Engine:      engine,
			Kind:        e.Kind,
			Amount:      e.Amount,
			Description: e.Description,
			RunID:       runID,
			CreatedAt:   created,
		})
	}

	if err = tx.Commit(); err != nil {
		return nil, storageErr(err, "commit transaction")
	}

	s.logger.Debugw("Ledger write committed",
		logger.FieldEngine, engine,
		logger.FieldRunID, runID,
		logger.FieldCount, len(txs),
		"sum", sum.String())
	return txs, nil
}

// TotalRevenue is the sum of every transaction amount
func (s *Store) TotalRevenue(ctx context.Context) (Amount, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(amount), 0) FROM transactions").Scan(&total)
	if err != nil {
		return 0, storageErr(err, "total revenue")
	}
	return Amount(total), nil
}

// RevenueSince sums transactions created at or after since
func (s *Store) RevenueSince(ctx context.Context, since time.Time) (Amount, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE created_at >= ?"),
		since.UTC()).Scan(&total)
	if err != nil {
		return 0, storageErr(err, "revenue since")
	}
	return Amount(total), nil
}

// RevenueByEngine maps every registered engine to the sum of its transactions.
// Engines without transactions map to zero.
func (s *Store) RevenueByEngine(ctx context.Context) (map[string]Amount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.name, COALESCE(SUM(t.amount), 0)
		 FROM engines e LEFT JOIN transactions t ON t.engine = e.name
		 GROUP BY e.name`)
	if err != nil {
		return nil, storageErr(err, "revenue by engine")
	}
	defer rows.Close()

	out := make(map[string]Amount)
	for rows.Next() {
		var name string
		var sum int64
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, storageErr(err, "scan revenue")
		}
		out[name] = Amount(sum)
	}
	return out, storageErr(rows.Err(), "revenue by engine")
}

// RecentTransactions returns up to limit transactions, newest first
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions ORDER BY created_at DESC, id DESC LIMIT ?",
		limit)
}

// EngineTransactions returns up to limit transactions of one engine, newest first
func (s *Store) EngineTransactions(ctx context.Context, engine string, limit int) ([]Transaction, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE engine = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		engine, limit)
}

func checkLimit(limit int) error {
	if limit < 1 || limit > MaxListLimit {
		return errors.NewValidationError("limit", "must be between 1 and %d, got %d", MaxListLimit, limit)
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, storageErr(err, "query transactions")
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		var (
			t      Transaction
			amount int64
			runID  sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Engine, &t.Kind, &amount, &t.Description, &runID, &t.CreatedAt); err != nil {
			return nil, storageErr(err, "scan transaction")
		}
		t.Amount = Amount(amount)
		t.RunID = runID.String
		t.CreatedAt = t.CreatedAt.UTC()
		txs = append(txs, t)
	}
	return txs, storageErr(rows.Err(), "query transactions")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEngine(row rowScanner) (*Engine, error) {
	var (
		e            Engine
		status       string
		lastActivity sql.NullTime
		total        int64
		period       int64
		config       string
	)
	if err := row.Scan(&e.Name, &status, &lastActivity, &total, &period, &config, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.TotalEarnings = Amount(total)
	e.PeriodEarnings = Amount(period)
	e.Config = json.RawMessage(config)
	e.CreatedAt = e.CreatedAt.UTC()
	if lastActivity.Valid {
		t := lastActivity.Time.UTC()
		e.LastActivity = &t
	}
	return &e, nil
}
