package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/display"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the ledger database",
	Long: `Manage the ledger database.

Examples:
  nexus db migrate                # Apply pending schema migrations
  nexus db stats                  # Show ledger totals`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics",
	Args:  cobra.NoArgs,
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Connect migrates before returning
	conn, dialect, err := openDatabase(cfg, logger.Logger.Named("db"))
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Fprintln(cmd.OutOrStdout(), pterm.Success.Sprintf("Ledger schema is current (%s, %s)", dialect, databaseTarget(cfg)))
	return nil
}

// dbStats is the machine-readable form of db stats
type dbStats struct {
	Driver       string        `json:"driver"`
	Target       string        `json:"target"`
	Engines      int           `json:"engines"`
	Transactions int64         `json:"transactions"`
	TotalRevenue ledger.Amount `json:"total_revenue"`
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, dialect, err := openDatabase(cfg, logger.Logger.Named("db"))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := cmd.Context()
	store := ledger.NewStore(conn, dialect, logger.Logger.Named("ledger"))
	engines, err := store.ListEngines(ctx)
	if err != nil {
		return err
	}
	total, err := store.TotalRevenue(ctx)
	if err != nil {
		return err
	}
	stats := dbStats{
		Driver:       string(dialect),
		Target:       databaseTarget(cfg),
		Engines:      len(engines),
		TotalRevenue: total,
	}
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&stats.Transactions); err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), stats)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, pterm.DefaultSection.Sprint("Ledger"))
	fmt.Fprintf(w, "Database:      %s (%s)\n", stats.Target, stats.Driver)
	fmt.Fprintf(w, "Engines:       %d\n", stats.Engines)
	fmt.Fprintf(w, "Transactions:  %d\n", stats.Transactions)
	fmt.Fprintf(w, "Total revenue: %s\n", stats.TotalRevenue)
	return nil
}

// databaseTarget names the database without leaking a DSN
func databaseTarget(cfg *am.Config) string {
	if cfg.Database.Driver == am.DriverPostgres {
		return cfg.Redacted().Database.DSN
	}
	return cfg.GetDatabasePath()
}
