package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nexus/display"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/report"
)

// ReportCmd shows dashboard, revenue or per-engine reports
var ReportCmd = &cobra.Command{
	Use:   "report [engine]",
	Short: "Show dashboard or per-engine reports",
	Long: `Without arguments, show the dashboard: totals, engines and recent
transactions. With an engine name, show that engine's report.

Examples:
  nexus report
  nexus report --revenue
  nexus report btc-quote --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

var reportRevenue bool

func init() {
	ReportCmd.Flags().BoolVar(&reportRevenue, "revenue", false, "Break revenue down by window and engine")
}

func runReport(cmd *cobra.Command, args []string) error {
	action, params := "get_dashboard_stats", map[string]any(nil)
	switch {
	case len(args) == 1:
		action, params = "get_engine_report", map[string]any{"engine": args[0]}
	case reportRevenue:
		action = "get_revenue_report"
	}

	resp, err := call(cmd, action, params)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), resp.Result)
	}

	w := cmd.OutOrStdout()
	switch action {
	case "get_engine_report":
		var r report.EngineReport
		if err := decodeResult(resp, &r); err != nil {
			return err
		}
		return printEngineReport(w, &r)
	case "get_revenue_report":
		var r report.RevenueReport
		if err := decodeResult(resp, &r); err != nil {
			return err
		}
		return printRevenueReport(w, &r)
	default:
		var r report.DashboardStats
		if err := decodeResult(resp, &r); err != nil {
			return err
		}
		return printDashboard(w, &r)
	}
}

func printDashboard(w io.Writer, s *report.DashboardStats) error {
	fmt.Fprintln(w, pterm.DefaultSection.Sprint("Dashboard"))
	fmt.Fprintf(w, "Total revenue:  %s\n", s.TotalRevenue)
	fmt.Fprintf(w, "Last 24h:       %s\n", s.DailyRevenue)
	fmt.Fprintf(w, "Active engines: %d of %d\n\n", s.ActiveEngines, s.TotalEngines)

	if len(s.Engines) > 0 {
		if err := display.EngineTable(w, s.Engines); err != nil {
			return err
		}
	}
	return printTransactions(w, s.RecentTransactions)
}

func printRevenueReport(w io.Writer, r *report.RevenueReport) error {
	fmt.Fprintln(w, pterm.DefaultSection.Sprint("Revenue"))
	fmt.Fprintf(w, "Total:    %s\n", r.TotalRevenue)
	fmt.Fprintf(w, "Last 24h: %s\n", r.DailyRevenue)
	fmt.Fprintf(w, "Last 30d: %s\n\n", r.MonthlyRevenue)

	names := make([]string, 0, len(r.ByEngine))
	for name := range r.ByEngine {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := pterm.TableData{{"ENGINE", "REVENUE"}}
	for _, name := range names {
		rows = append(rows, []string{name, r.ByEngine[name].String()})
	}
	if len(names) > 0 {
		out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out)
	}
	return printTransactions(w, r.RecentTransactions)
}

func printEngineReport(w io.Writer, r *report.EngineReport) error {
	fmt.Fprintln(w, pterm.DefaultSection.Sprint(r.Name))
	if err := display.EngineTable(w, []report.EngineSummary{r.EngineSummary}); err != nil {
		return err
	}
	fmt.Fprintf(w, "Registered: %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if r.LastRun != nil && r.LastRun.Error != "" {
		fmt.Fprintf(w, "Last error: %s\n", r.LastRun.Error)
	}
	if len(r.Config) > 0 {
		fmt.Fprintf(w, "Config:     %s\n", r.Config)
	}
	fmt.Fprintln(w)
	return printTransactions(w, r.RecentTransactions)
}

func printTransactions(w io.Writer, txs []ledger.Transaction) error {
	if len(txs) == 0 {
		fmt.Fprintln(w, "No transactions yet.")
		return nil
	}
	fmt.Fprintln(w, pterm.DefaultSection.Sprint("Recent transactions"))
	return display.TransactionTable(w, txs)
}
