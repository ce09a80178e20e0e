package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/pulse/runner"
	"github.com/teranos/nexus/registry"
)

// Executor runs one engine
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (*runner.JobRun, error)
}

// Catalog lists registered engines and their intervals
type Catalog interface {
	Entries() []registry.Entry
}

// Ticker manages periodic execution of interval engines.
// Each tick starts every due engine; the runner's per-engine lock keeps a
// slow engine from overlapping with its own next tick.
type Ticker struct {
	catalog         Catalog
	executor        Executor
	interval        time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	runs            sync.WaitGroup
	logger          *zap.SugaredLogger
	now             func() time.Time
	mu              sync.Mutex
	jobs            map[string]*Job
	lastTickAt      time.Time
	ticksSinceStart int64
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval time.Duration // How often to check for due engines (default: 1 second)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 1 * time.Second,
	}
}

// NewTicker creates a ticker over the registry's interval engines
func NewTicker(catalog Catalog, executor Executor, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if log == nil {
		log = logger.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ticker{
		catalog:  catalog,
		executor: executor,
		interval: cfg.Interval,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log,
		now:      time.Now,
		jobs:     make(map[string]*Job),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Scheduler started", "interval", t.interval.String())
}

// Stop ends the loop and waits for runs it started. In-flight runs are not
// cancelled; they finish within their own deadline.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.runs.Wait()
	t.logger.Infow("Scheduler stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.tick(t.now())
		}
	}
}

// tick syncs the job table with the registry and starts every due engine
func (t *Ticker) tick(now time.Time) {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	due := t.syncJobs(now)
	t.mu.Unlock()

	for _, name := range due {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		t.runs.Add(1)
		go t.execute(name)
	}
}

// syncJobs reconciles jobs with registered intervals and returns the due
// engines, advancing their next run time. Caller holds t.mu.
func (t *Ticker) syncJobs(now time.Time) []string {
	seen := make(map[string]bool)
	for _, entry := range t.catalog.Entries() {
		if entry.Interval <= 0 {
			continue
		}
		seen[entry.Name] = true

		job, ok := t.jobs[entry.Name]
		if !ok {
			// First sight runs on this tick
			t.jobs[entry.Name] = &Job{Engine: entry.Name, Interval: entry.Interval, NextRunAt: now}
			continue
		}
		if job.Interval != entry.Interval {
			base := now
			if job.LastRunAt != nil {
				base = *job.LastRunAt
			}
			job.Interval = entry.Interval
			job.NextRunAt = base.Add(entry.Interval)
		}
	}
	for name := range t.jobs {
		if !seen[name] {
			delete(t.jobs, name)
		}
	}

	var due []string
	for name, job := range t.jobs {
		if job.due(now) {
			job.NextRunAt = now.Add(job.Interval)
			due = append(due, name)
		}
	}
	sort.Strings(due)
	return due
}

// execute runs one due engine and records how it went
func (t *Ticker) execute(name string) {
	defer t.runs.Done()

	// Runs outlive Stop's cancellation; their deadline comes from the runner
	run, err := t.executor.Execute(context.WithoutCancel(t.ctx), name, nil)

	outcome := ""
	switch {
	case errors.Is(err, errors.ErrAlreadyRunning):
		outcome = SkippedBusy
		t.logger.Debugw("Scheduled run skipped, engine busy", logger.FieldEngine, name)
	case errors.Is(err, errors.ErrEngineFailed):
		outcome = SkippedFailed
		t.logger.Debugw("Scheduled run skipped, engine failed", logger.FieldEngine, name)
	case run != nil:
		outcome = string(run.Outcome)
		if err != nil {
			t.logger.Warnw("Scheduled run failed",
				logger.FieldEngine, name,
				logger.FieldRunID, run.ID,
				logger.FieldOutcome, outcome,
				logger.FieldError, err)
		}
	case err != nil:
		outcome = string(runner.OutcomeFailure)
		t.logger.Warnw("Scheduled run not started", logger.FieldEngine, name, logger.FieldError, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[name]
	if !ok {
		return
	}
	job.LastOutcome = outcome
	if outcome == SkippedBusy || outcome == SkippedFailed {
		job.Skipped++
		return
	}
	ran := t.now()
	if run != nil {
		ran = run.StartedAt
	}
	job.LastRunAt = &ran
}

// Jobs returns a snapshot of the schedule, sorted by engine
func (t *Ticker) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Engine < out[j].Engine })
	return out
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval.String(),
		"scheduled_engines": len(t.jobs),
	}
}
