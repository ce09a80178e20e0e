package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/version"
)

// printStartupBanner prints the server's startup summary
func printStartupBanner(w io.Writer, cfg *am.Config, verbosity int) {
	info := version.Get()

	title := pterm.DefaultBigText.WithLetters(pterm.NewLettersFromStringWithStyle("nexus", pterm.NewStyle(pterm.FgCyan)))
	if text, err := title.Srender(); err == nil {
		fmt.Fprint(w, text)
	}

	database := cfg.GetDatabasePath()
	if cfg.Database.Driver == am.DriverPostgres {
		database = "postgres"
	}
	lockBackend := cfg.Runner.Lock
	if lockBackend == am.LockRedis {
		lockBackend += " (" + cfg.Redis.Addr + ")"
	}
	schedule := "disabled"
	if cfg.Schedule.Enabled {
		schedule = "every " + cfg.TickInterval().String()
	}
	engines := make([]string, 0, len(cfg.Engines))
	for _, e := range cfg.Engines {
		engines = append(engines, e.Name)
	}

	box := pterm.DefaultBox.WithTitle("nexus").WithTitleTopLeft()
	lines := []string{
		fmt.Sprintf("Version:   %s (commit %s)", info.Version, info.Short()),
		fmt.Sprintf("Built:     %s", info.BuildTime),
		fmt.Sprintf("Verbosity: %s", logger.VerbosityToLevel(verbosity).String()),
		fmt.Sprintf("Port:      %d", cfg.Server.Port),
		fmt.Sprintf("Database:  %s", database),
		fmt.Sprintf("Lock:      %s", lockBackend),
		fmt.Sprintf("Scheduler: %s", schedule),
		fmt.Sprintf("Engines:   %s", strings.Join(engines, ", ")),
	}
	fmt.Fprintln(w, box.Sprint(strings.Join(lines, "\n")))
	fmt.Fprintln(w, pterm.Gray("Press Ctrl+C to stop"))
}
