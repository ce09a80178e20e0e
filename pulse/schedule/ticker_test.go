package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/nexus/db"
	"github.com/teranos/nexus/engine"
	"github.com/teranos/nexus/errors"
	nexustest "github.com/teranos/nexus/internal/testing"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/pulse/runner"
	"github.com/teranos/nexus/registry"
)

type fakeCatalog struct {
	mu      sync.Mutex
	entries []registry.Entry
}

func (c *fakeCatalog) Entries() []registry.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]registry.Entry(nil), c.entries...)
}

func (c *fakeCatalog) set(entries ...registry.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   map[string]error
}

func (e *fakeExecutor) Execute(ctx context.Context, name string, params map[string]any) (*runner.JobRun, error) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	err := e.err[name]
	e.mu.Unlock()

	if errors.Is(err, errors.ErrAlreadyRunning) || errors.Is(err, errors.ErrEngineFailed) {
		return nil, err
	}
	run := &runner.JobRun{Engine: name, StartedAt: time.Now(), Outcome: runner.OutcomeSuccess}
	if err != nil {
		run.Outcome = runner.OutcomeFailure
	}
	return run, err
}

func (e *fakeExecutor) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == name {
			n++
		}
	}
	return n
}

func newTestTicker(t *testing.T, catalog Catalog, exec Executor) *Ticker {
	return NewTicker(catalog, exec, TickerConfig{Interval: time.Hour}, zaptest.NewLogger(t).Sugar())
}

func TestTick_RunsDueEngines(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set(
		registry.Entry{Name: "fast", Interval: 10 * time.Second},
		registry.Entry{Name: "slow", Interval: time.Minute},
		registry.Entry{Name: "manual"},
	)
	exec := &fakeExecutor{}
	ticker := newTestTicker(t, catalog, exec)

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ticker.tick(t0)
	ticker.runs.Wait()
	assert.Equal(t, 1, exec.count("fast"), "first sight runs immediately")
	assert.Equal(t, 1, exec.count("slow"))
	assert.Equal(t, 0, exec.count("manual"), "engines without interval are on demand only")

	ticker.tick(t0.Add(5 * time.Second))
	ticker.runs.Wait()
	assert.Equal(t, 1, exec.count("fast"))

	ticker.tick(t0.Add(10 * time.Second))
	ticker.runs.Wait()
	assert.Equal(t, 2, exec.count("fast"))
	assert.Equal(t, 1, exec.count("slow"))

	jobs := ticker.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "fast", jobs[0].Engine)
	assert.Equal(t, t0.Add(20*time.Second), jobs[0].NextRunAt)
	assert.Equal(t, string(runner.OutcomeSuccess), jobs[0].LastOutcome)
	require.NotNil(t, jobs[0].LastRunAt)
}

func TestTick_SkipsBusyAndFailed(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set(
		registry.Entry{Name: "busy", Interval: time.Second},
		registry.Entry{Name: "broken", Interval: time.Second},
	)
	exec := &fakeExecutor{err: map[string]error{
		"busy":   errors.Wrap(errors.ErrAlreadyRunning, "busy"),
		"broken": errors.Wrap(errors.ErrEngineFailed, "broken"),
	}}
	ticker := newTestTicker(t, catalog, exec)

	t0 := time.Now()
	ticker.tick(t0)
	ticker.tick(t0.Add(time.Second))
	ticker.runs.Wait()

	jobs := ticker.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, SkippedFailed, jobs[0].LastOutcome)
	assert.Equal(t, 2, jobs[0].Skipped)
	assert.Nil(t, jobs[0].LastRunAt)
	assert.Equal(t, SkippedBusy, jobs[1].LastOutcome)
	assert.Equal(t, 2, jobs[1].Skipped)
}

func TestTick_FollowsIntervalChanges(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set(registry.Entry{Name: "a", Interval: time.Hour}, registry.Entry{Name: "b", Interval: time.Hour})
	exec := &fakeExecutor{}
	ticker := newTestTicker(t, catalog, exec)

	t0 := time.Now()
	ticker.tick(t0)
	ticker.runs.Wait()

	// a speeds up, b is dropped from the schedule
	catalog.set(registry.Entry{Name: "a", Interval: time.Minute}, registry.Entry{Name: "b"})
	ticker.tick(t0.Add(2 * time.Minute))
	ticker.runs.Wait()

	assert.Equal(t, 2, exec.count("a"))
	jobs := ticker.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Minute, jobs[0].Interval)
}

func TestStartStop(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	store := ledger.NewStore(nexustest.CreateTestDB(t), db.SQLite, log)
	reg := registry.New(store)
	r, err := runner.New(reg, store, runner.Config{}, log)
	require.NoError(t, err)

	require.NoError(t, reg.Register(context.Background(), "heartbeat",
		engine.Func(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
			return &engine.Result{Entries: []ledger.Entry{
				{Kind: ledger.KindJobRun, Amount: ledger.MustParseAmount("0.01"), Description: "tick"},
			}}, nil
		}),
		registry.WithInterval(time.Hour)))

	ticker := NewTicker(reg, r, TickerConfig{Interval: 10 * time.Millisecond}, log)
	ticker.Start()

	require.Eventually(t, func() bool {
		_, ok := r.LastRun("heartbeat")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	ticker.Stop()

	total, err := store.TotalRevenue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.01", total.String(), "hourly engine ran once")

	stats := ticker.GetStats()
	assert.GreaterOrEqual(t, stats["ticks_since_start"].(int64), int64(1))
	assert.Equal(t, 1, stats["scheduled_engines"])
}

func TestStopWithoutStart(t *testing.T) {
	ticker := newTestTicker(t, &fakeCatalog{}, &fakeExecutor{})
	ticker.Stop()
}
