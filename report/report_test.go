package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/nexus/db"
	"github.com/teranos/nexus/errors"
	nexustest "github.com/teranos/nexus/internal/testing"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/pulse/runner"
)

type fakeRuns map[string]runner.JobRun

func (f fakeRuns) LastRun(engine string) (runner.JobRun, bool) {
	run, ok := f[engine]
	return run, ok
}

var base = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

// seed writes transactions 40 days, 2 days and 1 hour before base
func seed(t *testing.T) *ledger.Store {
	t.Helper()
	ctx := context.Background()
	now := base.Add(-40 * Day)
	store := ledger.NewStore(nexustest.CreateTestDB(t), db.SQLite, zaptest.NewLogger(t).Sugar(),
		ledger.WithNow(func() time.Time { return now }))

	for _, name := range []string{"alpha", "beta", "idle"} {
		_, err := store.UpsertEngine(ctx, name, nil)
		require.NoError(t, err)
	}

	_, err := store.CommitRun(ctx, "alpha", "run-1", []ledger.Entry{
		{Kind: ledger.KindJobRun, Amount: ledger.MustParseAmount("1000.00"), Description: "old"},
	})
	require.NoError(t, err)

	now = base.Add(-2 * Day)
	_, err = store.CommitRun(ctx, "beta", "run-2", []ledger.Entry{
		{Kind: ledger.KindJobRun, Amount: ledger.MustParseAmount("50.00"), Description: "last week"},
	})
	require.NoError(t, err)

	now = base.Add(-time.Hour)
	_, err = store.CommitRun(ctx, "alpha", "run-3", []ledger.Entry{
		{Kind: ledger.KindJobRun, Amount: ledger.MustParseAmount("120.50"), Description: "sale"},
		{Kind: ledger.KindJobRun, Amount: ledger.MustParseAmount("-20.00"), Description: "fees"},
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateEngineStatus(ctx, "beta", ledger.StatusFailed))
	return store
}

func TestDashboardStats(t *testing.T) {
	store := seed(t)
	runs := fakeRuns{"alpha": {ID: "run-3", Engine: "alpha", Outcome: runner.OutcomeSuccess}}
	agg := New(store, runs, WithNow(func() time.Time { return base }), WithRecentWindow(2))

	stats, err := agg.DashboardStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1150.50", stats.TotalRevenue.String())
	assert.Equal(t, "100.50", stats.DailyRevenue.String())
	assert.Equal(t, 3, stats.TotalEngines)
	assert.Equal(t, 1, stats.ActiveEngines)
	assert.Equal(t, base, stats.GeneratedAt)

	require.Len(t, stats.Engines, 3)
	alpha := stats.Engines[0]
	assert.Equal(t, "alpha", alpha.Name)
	assert.Equal(t, "1100.50", alpha.TotalEarnings.String())
	assert.Equal(t, "100.50", alpha.PeriodEarnings.String())
	require.NotNil(t, alpha.LastRun)
	assert.Equal(t, "run-3", alpha.LastRun.ID)
	assert.Nil(t, stats.Engines[1].LastRun)
	assert.Equal(t, ledger.StatusFailed, stats.Engines[1].Status)

	require.Len(t, stats.RecentTransactions, 2)
	assert.Equal(t, "fees", stats.RecentTransactions[0].Description)
	assert.Equal(t, "sale", stats.RecentTransactions[1].Description)
}

func TestEngineReport(t *testing.T) {
	store := seed(t)
	agg := New(store, nil, WithNow(func() time.Time { return base }))

	rep, err := agg.EngineReport(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", rep.Name)
	assert.Equal(t, ledger.StatusActive, rep.Status)
	assert.Len(t, rep.RecentTransactions, 3)
	assert.Nil(t, rep.LastRun)

	idle, err := agg.EngineReport(context.Background(), "idle")
	require.NoError(t, err)
	assert.Empty(t, idle.RecentTransactions)
	assert.NotNil(t, idle.RecentTransactions, "empty list, not null")

	_, err = agg.EngineReport(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrUnknownEngine))
}

func TestRevenueReport(t *testing.T) {
	store := seed(t)
	agg := New(store, nil, WithNow(func() time.Time { return base }))

	rep, err := agg.RevenueReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1150.50", rep.TotalRevenue.String())
	assert.Equal(t, "100.50", rep.DailyRevenue.String())
	assert.Equal(t, "150.50", rep.MonthlyRevenue.String())
	assert.Equal(t, "0.00", rep.ByEngine["idle"].String())
	assert.Equal(t, "50.00", rep.ByEngine["beta"].String())
	assert.Len(t, rep.RecentTransactions, 4)
}

func TestReportsNeverWrite(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	agg := New(store, nil)

	before, err := store.ListEngines(ctx)
	require.NoError(t, err)

	_, err = agg.DashboardStats(ctx)
	require.NoError(t, err)
	_, err = agg.RevenueReport(ctx)
	require.NoError(t, err)
	_, err = agg.EngineReport(ctx, "beta")
	require.NoError(t, err)

	after, err := store.ListEngines(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
