package api

import (
	"context"
	"sync"

	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/pulse/runner"
)

const (
	defaultRecentTransactions = 10
	defaultListRuns           = 20
)

func (d *Dispatcher) dashboardStats(ctx context.Context, _ params) (any, error) {
	return d.reports.DashboardStats(ctx)
}

func (d *Dispatcher) revenueReport(ctx context.Context, _ params) (any, error) {
	return d.reports.RevenueReport(ctx)
}

func (d *Dispatcher) engineReport(ctx context.Context, p params) (any, error) {
	return d.reports.EngineReport(ctx, p.str("engine"))
}

func (d *Dispatcher) listEngines(ctx context.Context, _ params) (any, error) {
	engines, err := d.reports.Engines(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"engines": engines}, nil
}

func (d *Dispatcher) recentTransactions(ctx context.Context, p params) (any, error) {
	txs, err := d.ledger.RecentTransactions(ctx, p.intOr("limit", defaultRecentTransactions))
	if err != nil {
		return nil, err
	}
	return map[string]any{"transactions": txs}, nil
}

func (d *Dispatcher) totalRevenue(ctx context.Context, _ params) (any, error) {
	total, err := d.ledger.TotalRevenue(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"total_revenue": total}, nil
}

func (d *Dispatcher) revenueByEngine(ctx context.Context, _ params) (any, error) {
	byEngine, err := d.ledger.RevenueByEngine(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"by_engine": byEngine}, nil
}

func (d *Dispatcher) listRuns(_ context.Context, p params) (any, error) {
	return map[string]any{"runs": d.runner.RecentRuns(p.intOr("limit", defaultListRuns))}, nil
}

// RunResult is the result payload of run_engine
type RunResult struct {
	Run *runner.JobRun `json:"run"`
}

func (d *Dispatcher) runEngine(ctx context.Context, p params) (any, error) {
	run, err := d.runner.Execute(ctx, p.str("engine"), p.object("params"))
	if run == nil {
		return nil, err
	}
	// A started run is reported even when it failed
	return RunResult{Run: run}, err
}

// EngineOutcome is one engine's line in an activate_engines result
type EngineOutcome struct {
	Engine  string         `json:"engine"`
	Success bool           `json:"success"`
	Run     *runner.JobRun `json:"run,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
}

// ActivateResult is the result payload of activate_engines
type ActivateResult struct {
	Results   []EngineOutcome `json:"results"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

// activateEngines runs each engine independently and concurrently; one
// engine's failure never affects another's
func (d *Dispatcher) activateEngines(ctx context.Context, p params) (any, error) {
	names := p.strings("engines")
	results := make([]EngineOutcome, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			run, err := d.runner.Execute(ctx, name, nil)
			out := EngineOutcome{Engine: name, Success: err == nil, Run: run}
			if err != nil {
				c := Classify(err)
				out.Error = c.Message
				out.Code = c.Code
			}
			results[i] = out
		}(i, name)
	}
	wg.Wait()

	res := ActivateResult{Results: results}
	for _, r := range results {
		if r.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

func (d *Dispatcher) resetEngine(ctx context.Context, p params) (any, error) {
	name := p.str("engine")
	if err := d.runner.Reset(ctx, name); err != nil {
		return nil, err
	}
	return map[string]any{"engine": name, "status": ledger.StatusInactive}, nil
}

// recordCorrection appends a manual adjustment. Corrections never edit an
// existing transaction; a refund is a new negative entry.
func (d *Dispatcher) recordCorrection(ctx context.Context, p params) (any, error) {
	amount, err := p.amount("amount")
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, errors.NewValidationError("amount", "must not be zero")
	}
	tx, err := d.ledger.AppendTransaction(ctx, p.str("engine"), ledger.KindCorrection, amount, p.str("description"))
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, d.logger).Infow("Correction recorded",
		logger.FieldEngine, tx.Engine,
		"amount", tx.Amount.String(),
		"transaction_id", tx.ID)
	return map[string]any{"transaction": tx}, nil
}
