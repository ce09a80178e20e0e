package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nexus/api"
	"github.com/teranos/nexus/display"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/pulse/runner"
	"github.com/teranos/nexus/report"
)

// RunCmd runs one engine now
var RunCmd = &cobra.Command{
	Use:   "run <engine>",
	Short: "Run one engine now",
	Long: `Run an engine once and record what it earned.

Parameters are passed to the engine as key=value pairs. Values that parse
as JSON (numbers, booleans, objects) are passed typed, anything else as a
string.

Examples:
  nexus run btc-quote
  nexus run webhook-sink --param region=eu --param retries=3
  nexus run btc-quote --server http://localhost:8787`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// ActivateCmd runs several engines concurrently
var ActivateCmd = &cobra.Command{
	Use:   "activate <engine>...",
	Short: "Run several engines at once",
	Long:  "Run each named engine independently; one engine's failure does not affect the others.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runActivate,
}

// ResetCmd returns a failed engine to inactive
var ResetCmd = &cobra.Command{
	Use:   "reset <engine>",
	Short: "Return a failed engine to inactive",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

// CorrectCmd records a manual correction
var CorrectCmd = &cobra.Command{
	Use:   "correct <engine> <amount> <description>",
	Short: "Record a manual correction transaction",
	Long: `Append a correction to an engine's ledger. Transactions are never edited;
a refund is a new negative correction.

Examples:
  nexus correct btc-quote -- -20 "refund for duplicate quote"
  nexus correct webhook-sink 12.50 "late settlement"`,
	Args: cobra.MinimumNArgs(3),
	RunE: runCorrect,
}

// EnginesCmd lists engines
var EnginesCmd = &cobra.Command{
	Use:     "engines",
	Aliases: []string{"ls"},
	Short:   "List engines and their status",
	Args:    cobra.NoArgs,
	RunE:    runEngines,
}

// RunsCmd lists recent runs
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs (kept in memory by a running server)",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var (
	runParams []string
	runsLimit int
)

func init() {
	RunCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "Engine parameter as key=value (repeatable)")
	RunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to show")
}

func runRun(cmd *cobra.Command, args []string) error {
	params, err := parseParams(runParams)
	if err != nil {
		return err
	}

	resp, callErr := call(cmd, "run_engine", map[string]any{"engine": args[0], "params": params})

	// A started run is reported even when it failed
	var result api.RunResult
	if resp.Result != nil {
		if err := decodeResult(resp, &result); err != nil {
			return err
		}
	}
	if display.ShouldOutputJSON(cmd) && (resp.Success || resp.Code != "") {
		if err := display.WriteJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		return callErr
	}
	if result.Run != nil {
		printRun(cmd.OutOrStdout(), result.Run)
	}
	return callErr
}

func printRun(w io.Writer, run *runner.JobRun) {
	line := fmt.Sprintf("%s run %s: %s in %s, %d transaction(s)",
		run.Engine, run.ID, run.Outcome, run.Duration().Round(time.Millisecond), len(run.TransactionIDs))
	if run.Outcome == runner.OutcomeSuccess {
		fmt.Fprintln(w, pterm.Success.Sprint(line))
		return
	}
	fmt.Fprintln(w, pterm.Error.Sprint(line))
	if run.Error != "" {
		fmt.Fprintln(w, "  "+run.Error)
	}
}

func runActivate(cmd *cobra.Command, args []string) error {
	resp, err := call(cmd, "activate_engines", map[string]any{"engines": args})
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), resp.Result)
	}

	var result api.ActivateResult
	if err := decodeResult(resp, &result); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, r := range result.Results {
		switch {
		case r.Run != nil:
			printRun(w, r.Run)
		case !r.Success:
			fmt.Fprintln(w, pterm.Error.Sprintf("%s: %s", r.Engine, r.Error))
		}
	}
	fmt.Fprintf(w, "%d succeeded, %d failed\n", result.Succeeded, result.Failed)
	if result.Failed > 0 {
		return errors.Newf("%d of %d engines failed", result.Failed, len(result.Results))
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	resp, err := call(cmd, "reset_engine", map[string]any{"engine": args[0]})
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), resp.Result)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pterm.Success.Sprintf("%s reset to %s", args[0], ledger.StatusInactive))
	return nil
}

func runCorrect(cmd *cobra.Command, args []string) error {
	// Validate locally so a typo never reaches the ledger
	amount, err := ledger.ParseAmount(args[1])
	if err != nil {
		return err
	}
	resp, err := call(cmd, "record_correction", map[string]any{
		"engine":      args[0],
		"amount":      amount.String(),
		"description": strings.Join(args[2:], " "),
	})
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), resp.Result)
	}

	var result struct {
		Transaction ledger.Transaction `json:"transaction"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return err
	}
	tx := result.Transaction
	fmt.Fprintln(cmd.OutOrStdout(), pterm.Success.Sprintf("Recorded correction #%d: %s %s", tx.ID, tx.Engine, tx.Amount))
	return nil
}

func runEngines(cmd *cobra.Command, args []string) error {
	resp, err := call(cmd, "list_engines", nil)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), resp.Result)
	}

	var result struct {
		Engines []report.EngineSummary `json:"engines"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return err
	}
	if len(result.Engines) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No engines registered. Declare [[engines]] in am.toml.")
		return nil
	}
	return display.EngineTable(cmd.OutOrStdout(), result.Engines)
}

func runRuns(cmd *cobra.Command, args []string) error {
	resp, err := call(cmd, "list_runs", map[string]any{"limit": runsLimit})
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), resp.Result)
	}

	var result struct {
		Runs []runner.JobRun `json:"runs"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return err
	}
	if len(result.Runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	for i := range result.Runs {
		printRun(cmd.OutOrStdout(), &result.Runs[i])
	}
	return nil
}
