package commands

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/api"
	"github.com/teranos/nexus/db"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/provider"
	"github.com/teranos/nexus/pulse/lock"
	"github.com/teranos/nexus/pulse/runner"
	"github.com/teranos/nexus/registry"
	"github.com/teranos/nexus/report"
)

// app is the in-process orchestrator: ledger, registry, runner, reports
// and the dispatcher in front of them
type app struct {
	cfg        *am.Config
	conn       *sql.DB
	store      *ledger.Store
	registry   *registry.Registry
	runner     *runner.Runner
	reports    *report.Aggregator
	dispatcher *api.Dispatcher
	closers    []func() error
}

// openDatabase connects to the configured ledger backend and migrates it
func openDatabase(cfg *am.Config, log *zap.SugaredLogger) (*sql.DB, db.Dialect, error) {
	target := cfg.GetDatabasePath()
	if cfg.Database.Driver == am.DriverPostgres {
		target = cfg.Database.DSN
	}
	conn, dialect, err := db.Connect(cfg.Database.Driver, target, log)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open database")
	}
	return conn, dialect, nil
}

// newApp wires the orchestrator from configuration. Engines named in the
// config are registered and bootstrapped into the ledger.
func newApp(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger, opts ...runner.Option) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"), "run 'nexus am show' to inspect the effective configuration")
	}

	conn, dialect, err := openDatabase(cfg, log.Named("db"))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, conn: conn}
	a.closers = append(a.closers, conn.Close)

	a.store = ledger.NewStore(conn, dialect, log.Named("ledger"))

	providers, err := provider.NewSet(cfg.Providers, log.Named("provider"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry = registry.New(a.store)
	if err := registry.Bootstrap(ctx, a.registry, cfg, providers, log.Named("registry")); err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.locker(ctx, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	runnerOpts := append([]runner.Option{
		runner.WithLocker(locker),
		runner.WithProviders(providers),
	}, opts...)
	a.runner, err = runner.New(a.registry, a.store, runner.Config{
		MaxConcurrent:  cfg.Runner.MaxConcurrent,
		DefaultTimeout: cfg.DefaultTimeout(),
		RecentRuns:     cfg.Runner.RecentRuns,
	}, log.Named("runner"), runnerOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.reports = report.New(a.store, a.runner)
	a.dispatcher, err = api.New(a.runner, a.reports, a.store, log.Named("api"))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// locker picks the engine lock backend. Redis makes single-flight hold
// across every process sharing the ledger.
func (a *app) locker(ctx context.Context, log *zap.SugaredLogger) (lock.Locker, error) {
	if a.cfg.Runner.Lock != am.LockRedis {
		return lock.NewKeyedMutex(), nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := lock.DialRedis(dialCtx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return nil, errors.WithHint(err, "set runner.lock = \"memory\" to run without Redis")
	}
	a.closers = append(a.closers, rdb.Close)

	log.Infow("Using Redis engine lock", logger.FieldAddress, a.cfg.Redis.Addr)
	return lock.NewRedisLocker(rdb, time.Duration(a.cfg.Redis.LockTTLSeconds)*time.Second), nil
}

// Close releases connections in reverse order of acquisition
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// loadConfig loads and caches the effective configuration
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}
