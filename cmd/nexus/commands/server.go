package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/pulse/schedule"
	"github.com/teranos/nexus/registry"
	"github.com/teranos/nexus/server"
	"github.com/teranos/nexus/server/wslogs"
	"github.com/teranos/nexus/telemetry"
)

// ServerCmd starts the nexus orchestrator server
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the nexus server",
	Long: `Serve the orchestrator API on POST /api/nexus, stream run events and
run logs to dashboard clients on /ws, and run interval engines when the
scheduler is enabled. Edits to the project am.toml are picked up live for
engine intervals and timeouts.`,
	RunE: runServer,
}

var (
	serverPort       int
	serverNoSchedule bool
	serverNoWatch    bool
)

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Port to listen on (overrides config)")
	ServerCmd.Flags().BoolVar(&serverNoSchedule, "no-schedule", false, "Disable the interval scheduler")
	ServerCmd.Flags().BoolVar(&serverNoWatch, "no-watch", false, "Do not reload am.toml on change")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Default to Info for the server
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = logger.VerbosityInfo
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if serverNoSchedule {
		cfg.Schedule.Enabled = false
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, logger.Logger.Named("telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Logger.Warnw("Telemetry flush failed", logger.FieldError, err)
		}
	}()

	// Run logs are tee'd to dashboard clients before any component takes a logger
	transport := wslogs.NewTransport()
	runLogs := wslogs.NewCore(logger.VerbosityToLevel(verbosity), transport, wslogs.DefaultMaxMessages)
	logger.AddCore(runLogs)
	log := logger.Logger

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(server.Options{
		Dispatcher:   a.dispatcher,
		Config:       cfg.Server,
		Health:       a.conn.PingContext,
		Logs:         runLogs,
		LogTransport: transport,
		Logger:       log.Named("server"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}
	a.runner.OnRunComplete(srv.RunCompleted)

	var ticker *schedule.Ticker
	if cfg.Schedule.Enabled {
		ticker = schedule.NewTicker(a.registry, a.runner, schedule.TickerConfig{Interval: cfg.TickInterval()}, log.Named("schedule"))
		ticker.Start()
	}

	if !serverNoWatch {
		if watcher := watchConfig(a, log.Named("config")); watcher != nil {
			defer watcher.Stop()
		}
	}

	printStartupBanner(os.Stdout, cfg, verbosity)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		if ticker != nil {
			ticker.Stop()
		}
		if err == nil {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- shutdown(ticker, srv)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return err
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// shutdown stops new scheduled runs before draining HTTP and websocket clients
func shutdown(ticker *schedule.Ticker, srv *server.Server) error {
	if ticker != nil {
		ticker.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	return errors.Wrap(srv.Shutdown(ctx), "shutdown error")
}

// watchConfig reloads engine schedules when the project config changes.
// Without a project config file there is nothing to watch.
func watchConfig(a *app, log *zap.SugaredLogger) *am.ConfigWatcher {
	path := am.FindProjectConfig()
	if path == "" {
		log.Debugw("No project config to watch")
		return nil
	}
	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		log.Warnw("Config watcher unavailable", logger.FieldPath, path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		registry.ApplySchedules(a.registry, cfg, log)
		log.Infow("Engine schedules reloaded", logger.FieldPath, path, logger.FieldCount, len(cfg.Engines))
		return nil
	})
	am.SetGlobalWatcher(watcher)
	watcher.Start()
	return watcher
}
