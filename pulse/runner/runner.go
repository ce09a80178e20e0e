// Package runner executes engines: one run at a time per engine, a bounded
// number of runs across engines, every run deadline-bound and recorded.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teranos/nexus/engine"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/provider"
	"github.com/teranos/nexus/pulse/lock"
	"github.com/teranos/nexus/registry"
)

// Defaults applied when Config leaves a field zero
const (
	DefaultMaxConcurrent = 4
	DefaultTimeout       = 30 * time.Second
	DefaultRecentRuns    = 100

	// statusWriteTimeout bounds the final status write, which runs detached
	// from the caller so a cancelled request cannot leave an engine starting
	statusWriteTimeout = 5 * time.Second
)

// Catalog resolves engine names to registrations
type Catalog interface {
	Lookup(name string) (registry.Entry, error)
}

// Ledger is the slice of the ledger store the runner writes through
type Ledger interface {
	GetEngine(ctx context.Context, name string) (*ledger.Engine, error)
	UpdateEngineStatus(ctx context.Context, name string, status ledger.Status) error
	CommitRun(ctx context.Context, engine, runID string, entries []ledger.Entry) ([]ledger.Transaction, error)
	ResetEngine(ctx context.Context, name string) error
}

// Config sizes the runner
type Config struct {
	MaxConcurrent  int
	DefaultTimeout time.Duration
	RecentRuns     int
}

// Option customizes a Runner
type Option func(*Runner)

// WithLocker replaces the in-process keyed mutex, e.g. with a Redis locker
func WithLocker(l lock.Locker) Option {
	return func(r *Runner) { r.locker = l }
}

// WithProviders hands capabilities their external collaborators
func WithProviders(p *provider.Set) Option {
	return func(r *Runner) { r.providers = p }
}

// WithMeterProvider records run metrics on mp instead of the global provider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Runner) { r.meterProvider = mp }
}

// WithTracerProvider traces runs on tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) { r.tracer = tp.Tracer(meterName) }
}

// Runner executes engines on demand
type Runner struct {
	catalog        Catalog
	ledger         Ledger
	locker         lock.Locker
	providers      *provider.Set
	slots          chan struct{}
	defaultTimeout time.Duration
	meterProvider  metric.MeterProvider
	metrics        *metrics
	tracer         trace.Tracer
	logger         *zap.SugaredLogger

	mu        sync.RWMutex
	history   *history
	observers []func(JobRun)
}

// New creates a runner
func New(catalog Catalog, store Ledger, cfg Config, log *zap.SugaredLogger, opts ...Option) (*Runner, error) {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.RecentRuns < 1 {
		cfg.RecentRuns = DefaultRecentRuns
	}
	if log == nil {
		log = logger.Logger
	}

	r := &Runner{
		catalog:        catalog,
		ledger:         store,
		locker:         lock.NewKeyedMutex(),
		slots:          make(chan struct{}, cfg.MaxConcurrent),
		defaultTimeout: cfg.DefaultTimeout,
		logger:         log,
		history:        newHistory(cfg.RecentRuns),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(meterName)
	}

	m, err := newMetrics(r.meterProvider)
	if err != nil {
		return nil, err
	}
	r.metrics = m
	return r, nil
}

// OnRunComplete registers fn to be called after every run, success or not.
// Observers run synchronously on the executing goroutine and must not block.
func (r *Runner) OnRunComplete(fn func(JobRun)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// LastRun returns the most recent run of engine
func (r *Runner) LastRun(engine string) (JobRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.history.last[engine]
	return run, ok
}

// RecentRuns returns up to limit runs across all engines, newest first
func (r *Runner) RecentRuns(limit int) []JobRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.recent(limit)
}

// Active is the number of runs holding a concurrency slot
func (r *Runner) Active() int {
	return len(r.slots)
}

// Execute runs engine name once.
//
// Errors before the run starts (unknown engine, failed engine, busy engine,
// no concurrency slot before ctx expires) return a nil JobRun and leave the
// engine untouched. Once the run starts, the JobRun is always returned, with
// an error matching ErrTimeout or ErrEngineExecution when it did not succeed.
//
// The engine lock is taken only after a concurrency slot is free, so a
// queued request never holds it.
func (r *Runner) Execute(ctx context.Context, name string, params map[string]any) (*JobRun, error) {
	entry, err := r.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := r.checkRunnable(ctx, name); err != nil {
		return nil, err
	}

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Mark(
			errors.Wrapf(ctx.Err(), "engine %q: waiting for a free runner slot", name),
			errors.ErrTimeout)
	}
	defer func() { <-r.slots }()

	release, err := r.locker.TryLock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	// A run that finished while this one queued may have failed the engine
	if err := r.checkRunnable(ctx, name); err != nil {
		return nil, err
	}
	if err := r.ledger.UpdateEngineStatus(ctx, name, ledger.StatusStarting); err != nil {
		return nil, err
	}

	return r.run(ctx, entry, params)
}

func (r *Runner) checkRunnable(ctx context.Context, name string) error {
	eng, err := r.ledger.GetEngine(ctx, name)
	if err != nil {
		return err
	}
	if eng.Status == ledger.StatusFailed {
		return errors.WithHint(
			errors.Wrapf(errors.ErrEngineFailed, "engine %q", name),
			"reset the engine before running it again")
	}
	return nil
}

type runResult struct {
	res *engine.Result
	err error
}

func (r *Runner) run(ctx context.Context, entry registry.Entry, params map[string]any) (*JobRun, error) {
	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	run := JobRun{
		ID:             uuid.NewString(),
		Engine:         entry.Name,
		StartedAt:      time.Now().UTC(),
		TransactionIDs: []int64{},
	}

	ctx, span := r.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("nexus.engine", entry.Name),
		attribute.String("nexus.run_id", run.ID)))
	defer span.End()

	// Never beyond the caller's own deadline
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	log := logger.FromContext(ctx, r.logger).With(
		logger.FieldEngine, entry.Name,
		logger.FieldRunID, run.ID)
	log.Infow("Engine run started", logger.FieldTimeout, timeout.String())

	metricsCtx := context.WithoutCancel(ctx)
	r.metrics.started(metricsCtx, entry.Name)

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Errorw("Engine panicked", "panic", p, "stack", string(debug.Stack()))
				done <- runResult{err: errors.Newf("panic: %v", p)}
			}
		}()
		res, err := entry.Capability.Run(runCtx, engine.Request{
			Engine:    entry.Name,
			RunID:     run.ID,
			Params:    params,
			Providers: r.providers,
		})
		done <- runResult{res: res, err: err}
	}()

	var runErr error
	select {
	case out := <-done:
		runErr = r.settle(runCtx, &run, out)
	case <-runCtx.Done():
		// The capability ignored its deadline; its late result is dropped
		runErr = deadlineErr(runCtx, entry.Name, timeout)
	}

	run.EndedAt = time.Now().UTC()
	switch {
	case runErr == nil:
		run.Outcome = OutcomeSuccess
	case errors.Is(runErr, errors.ErrTimeout):
		run.Outcome = OutcomeTimeout
	default:
		run.Outcome = OutcomeFailure
	}

	span.SetAttributes(
		attribute.String("nexus.outcome", string(run.Outcome)),
		attribute.Int("nexus.transactions", len(run.TransactionIDs)))

	if runErr != nil {
		run.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(run.Outcome))
		r.markFailed(ctx, entry.Name, log)
		log.Warnw("Engine run failed",
			logger.FieldOutcome, run.Outcome,
			logger.FieldDurationMS, run.Duration().Milliseconds(),
			logger.FieldError, runErr)
	} else {
		log.Infow("Engine run completed",
			logger.FieldOutcome, run.Outcome,
			logger.FieldCount, len(run.TransactionIDs),
			logger.FieldDurationMS, run.Duration().Milliseconds())
	}

	r.metrics.finished(metricsCtx, run)
	r.record(run)
	return &run, runErr
}

// settle commits a finished capability's result, or classifies its error
func (r *Runner) settle(runCtx context.Context, run *JobRun, out runResult) error {
	if out.err != nil {
		if runCtx.Err() != nil {
			return errors.Mark(errors.WrapEngineExecution(out.err, run.Engine), errors.ErrTimeout)
		}
		return errors.WrapEngineExecution(out.err, run.Engine)
	}

	var entries []ledger.Entry
	if out.res != nil {
		entries = out.res.Entries
		run.Summary = out.res.Summary
	}

	txs, err := r.ledger.CommitRun(runCtx, run.Engine, run.ID, entries)
	if err != nil {
		switch {
		case runCtx.Err() != nil:
			return errors.Mark(errors.Wrap(err, "commit run"), errors.ErrTimeout)
		case errors.IsValidationError(err):
			// The capability reported entries the ledger cannot accept
			return errors.WrapEngineExecution(err, run.Engine)
		default:
			return err
		}
	}
	for _, tx := range txs {
		run.TransactionIDs = append(run.TransactionIDs, tx.ID)
	}
	return nil
}

func deadlineErr(runCtx context.Context, engine string, timeout time.Duration) error {
	err := errors.Wrapf(runCtx.Err(), "engine %q did not finish within %s", engine, timeout)
	return errors.Mark(err, errors.ErrTimeout)
}

// markFailed resolves a run that did not succeed to failed
func (r *Runner) markFailed(ctx context.Context, name string, log *zap.SugaredLogger) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := r.ledger.UpdateEngineStatus(writeCtx, name, ledger.StatusFailed); err != nil {
		log.Errorw("Failed to mark engine failed", logger.FieldError, err)
	}
}

func (r *Runner) record(run JobRun) {
	r.mu.Lock()
	r.history.add(run)
	observers := make([]func(JobRun), len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Errorw("Run observer panicked", "panic", fmt.Sprint(p))
				}
			}()
			fn(run)
		}()
	}
}

// Reset returns a failed engine to inactive. It takes the engine's slot so a
// reset can never land in the middle of a run.
func (r *Runner) Reset(ctx context.Context, name string) error {
	if _, err := r.catalog.Lookup(name); err != nil {
		return err
	}
	release, err := r.locker.TryLock(ctx, name)
	if err != nil {
		return err
	}
	defer release()

	if err := r.ledger.ResetEngine(ctx, name); err != nil {
		return err
	}
	r.logger.Infow("Engine reset", logger.FieldEngine, name)
	return nil
}
