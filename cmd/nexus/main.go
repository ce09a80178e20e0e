package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/nexus/cmd/nexus/commands"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "nexus - pluggable engine orchestrator",
	Long: `nexus runs named engines, records what they earn in a ledger and
reports on it through a single action endpoint.

Available commands:
  server   - Serve the orchestrator API, scheduler and run event stream
  run      - Run one engine now
  activate - Run several engines at once
  runs     - List recent runs
  engines  - List engines and their status
  report   - Show dashboard or per-engine reports
  reset    - Return a failed engine to inactive
  correct  - Record a manual correction transaction
  call     - Send any orchestrator action
  db       - Manage the ledger database
  am       - Manage nexus configuration

Examples:
  nexus am init              # Write a starter am.toml
  nexus server -v            # Serve on the configured port
  nexus run btc-quote        # Run an engine once
  nexus report --json        # Dashboard stats as JSON`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().Bool("json", false, "Print command output as JSON")
	rootCmd.PersistentFlags().String("server", "", "Send actions to a running nexus server (e.g. http://localhost:8787) instead of running them in-process")

	commands.Register(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
