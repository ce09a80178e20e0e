// Package report composes read-only rollups from the ledger and run history.
// Nothing here writes; every call reads committed state directly.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/pulse/runner"
)

// DefaultRecentWindow is the number of transactions shown on the dashboard
const DefaultRecentWindow = 10

// Rollup windows
const (
	Day   = 24 * time.Hour
	Month = 30 * Day
)

// Ledger is the read side of the ledger store
type Ledger interface {
	GetEngine(ctx context.Context, name string) (*ledger.Engine, error)
	ListEngines(ctx context.Context) ([]ledger.Engine, error)
	TotalRevenue(ctx context.Context) (ledger.Amount, error)
	RevenueSince(ctx context.Context, since time.Time) (ledger.Amount, error)
	RevenueByEngine(ctx context.Context) (map[string]ledger.Amount, error)
	RecentTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error)
	EngineTransactions(ctx context.Context, engine string, limit int) ([]ledger.Transaction, error)
}

// RunHistory supplies the last run of each engine
type RunHistory interface {
	LastRun(engine string) (runner.JobRun, bool)
}

// EngineSummary is one engine's row on the dashboard
type EngineSummary struct {
	Name           string         `json:"name"`
	Status         ledger.Status  `json:"status"`
	TotalEarnings  ledger.Amount  `json:"total_earnings"`
	PeriodEarnings ledger.Amount  `json:"period_earnings"`
	LastActivity   *time.Time     `json:"last_activity,omitempty"`
	LastRun        *runner.JobRun `json:"last_run,omitempty"`
}

// DashboardStats is the dashboard overview
type DashboardStats struct {
	TotalRevenue       ledger.Amount        `json:"total_revenue"`
	DailyRevenue       ledger.Amount        `json:"daily_revenue"`
	ActiveEngines      int                  `json:"active_engines"`
	TotalEngines       int                  `json:"total_engines"`
	Engines            []EngineSummary      `json:"engines"`
	RecentTransactions []ledger.Transaction `json:"recent_transactions"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// EngineReport is the detail view of one engine
type EngineReport struct {
	EngineSummary
	Config             json.RawMessage      `json:"config,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	RecentTransactions []ledger.Transaction `json:"recent_transactions"`
}

// RevenueReport breaks revenue down by window and engine
type RevenueReport struct {
	TotalRevenue       ledger.Amount            `json:"total_revenue"`
	DailyRevenue       ledger.Amount            `json:"daily_revenue"`
	MonthlyRevenue     ledger.Amount            `json:"monthly_revenue"`
	ByEngine           map[string]ledger.Amount `json:"by_engine"`
	RecentTransactions []ledger.Transaction     `json:"recent_transactions"`
	GeneratedAt        time.Time                `json:"generated_at"`
}

// Option customizes an Aggregator
type Option func(*Aggregator)

// WithNow sets the clock the rollup windows are measured from
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithRecentWindow sets how many transactions reports include
func WithRecentWindow(n int) Option {
	return func(a *Aggregator) { a.recent = n }
}

// Aggregator computes reports on demand. Safe for concurrent use.
type Aggregator struct {
	ledger Ledger
	runs   RunHistory
	now    func() time.Time
	recent int
}

// New creates an aggregator. runs may be nil when no runner is present,
// e.g. for the offline CLI report.
func New(l Ledger, runs RunHistory, opts ...Option) *Aggregator {
	a := &Aggregator{
		ledger: l,
		runs:   runs,
		now:    time.Now,
		recent: DefaultRecentWindow,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) summarize(e ledger.Engine) EngineSummary {
	s := EngineSummary{
		Name:           e.Name,
		Status:         e.Status,
		TotalEarnings:  e.TotalEarnings,
		PeriodEarnings: e.PeriodEarnings,
		LastActivity:   e.LastActivity,
	}
	if a.runs != nil {
		if run, ok := a.runs.LastRun(e.Name); ok {
			s.LastRun = &run
		}
	}
	return s
}

// Engines lists every engine's summary, sorted by name
func (a *Aggregator) Engines(ctx context.Context) ([]EngineSummary, error) {
	engines, err := a.ledger.ListEngines(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EngineSummary, 0, len(engines))
	for _, e := range engines {
		out = append(out, a.summarize(e))
	}
	return out, nil
}

// DashboardStats returns totals, the per-engine breakdown and recent activity
func (a *Aggregator) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	now := a.now().UTC()

	total, err := a.ledger.TotalRevenue(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := a.ledger.RevenueSince(ctx, now.Add(-Day))
	if err != nil {
		return nil, err
	}
	engines, err := a.Engines(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := a.ledger.RecentTransactions(ctx, a.recent)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalRevenue:       total,
		DailyRevenue:       daily,
		TotalEngines:       len(engines),
		Engines:            engines,
		RecentTransactions: recent,
		GeneratedAt:        now,
	}
	for _, e := range engines {
		if e.Status == ledger.StatusActive {
			stats.ActiveEngines++
		}
	}
	return stats, nil
}

// EngineReport returns one engine's detail
func (a *Aggregator) EngineReport(ctx context.Context, name string) (*EngineReport, error) {
	e, err := a.ledger.GetEngine(ctx, name)
	if err != nil {
		return nil, err
	}
	recent, err := a.ledger.EngineTransactions(ctx, name, a.recent)
	if err != nil {
		return nil, err
	}
	return &EngineReport{
		EngineSummary:      a.summarize(*e),
		Config:             e.Config,
		CreatedAt:          e.CreatedAt,
		RecentTransactions: recent,
	}, nil
}

// RevenueReport returns revenue over the day, the month and all time
func (a *Aggregator) RevenueReport(ctx context.Context) (*RevenueReport, error) {
	now := a.now().UTC()

	total, err := a.ledger.TotalRevenue(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := a.ledger.RevenueSince(ctx, now.Add(-Day))
	if err != nil {
		return nil, err
	}
	monthly, err := a.ledger.RevenueSince(ctx, now.Add(-Month))
	if err != nil {
		return nil, err
	}
	byEngine, err := a.ledger.RevenueByEngine(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := a.ledger.RecentTransactions(ctx, a.recent)
	if err != nil {
		return nil, err
	}
	return &RevenueReport{
		TotalRevenue:       total,
		DailyRevenue:       daily,
		MonthlyRevenue:     monthly,
		ByEngine:           byEngine,
		RecentTransactions: recent,
		GeneratedAt:        now,
	}, nil
}
