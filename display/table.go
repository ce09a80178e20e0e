package display

import (
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/report"
)

// EngineTable renders engine summaries, one row per engine
func EngineTable(w io.Writer, engines []report.EngineSummary) error {
	rows := pterm.TableData{{"ENGINE", "STATUS", "TOTAL", "LAST 30D", "LAST ACTIVITY", "LAST RUN"}}
	for _, e := range engines {
		activity, lastRun := "-", "-"
		if e.LastActivity != nil {
			activity = e.LastActivity.Local().Format(time.DateTime)
		}
		if e.LastRun != nil {
			lastRun = string(e.LastRun.Outcome)
		}
		rows = append(rows, []string{
			e.Name,
			string(e.Status),
			e.TotalEarnings.String(),
			e.PeriodEarnings.String(),
			activity,
			lastRun,
		})
	}
	return renderTable(w, rows)
}

// TransactionTable renders ledger rows, newest first as given
func TransactionTable(w io.Writer, txs []ledger.Transaction) error {
	rows := pterm.TableData{{"ID", "ENGINE", "KIND", "AMOUNT", "DESCRIPTION", "AT"}}
	for _, tx := range txs {
		rows = append(rows, []string{
			strconv.FormatInt(tx.ID, 10),
			tx.Engine,
			tx.Kind,
			tx.Amount.String(),
			tx.Description,
			tx.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(w, rows)
}

func renderTable(w io.Writer, rows pterm.TableData) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out+"\n")
	return err
}
