// Package api is the orchestrator's single entry point: a closed table of
// actions, each either a read-only report query or an engine operation.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/pulse/runner"
	"github.com/teranos/nexus/report"
)

// Request is one decoded call. On the wire it is a flat object:
// {"action": "run_engine", "engine": "alpha"}.
type Request struct {
	Action string
	Params map[string]any
}

// Response is the envelope every action returns
type Response struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Status is the HTTP status a transport should answer with
	Status int `json:"-"`
}

// DecodeRequest reads a flat JSON object and splits off its action.
// Numbers are kept as json.Number so amounts never pass through float64.
func DecodeRequest(r io.Reader) (Request, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Request{}, errors.NewValidationError("", "body must be a JSON object: %s", err)
	}
	if dec.More() {
		return Request{}, errors.NewValidationError("", "body must hold a single JSON object")
	}
	if raw == nil {
		return Request{}, errors.NewValidationError("", "body must be a JSON object")
	}

	action, ok := raw["action"].(string)
	if !ok || action == "" {
		return Request{}, errors.NewValidationError("action", "is required and must be a string")
	}
	delete(raw, "action")
	return Request{Action: action, Params: raw}, nil
}

// Runner is the engine side of the orchestrator
type Runner interface {
	Execute(ctx context.Context, name string, params map[string]any) (*runner.JobRun, error)
	Reset(ctx context.Context, name string) error
	RecentRuns(limit int) []runner.JobRun
}

// Reports is the read side
type Reports interface {
	DashboardStats(ctx context.Context) (*report.DashboardStats, error)
	RevenueReport(ctx context.Context) (*report.RevenueReport, error)
	EngineReport(ctx context.Context, name string) (*report.EngineReport, error)
	Engines(ctx context.Context) ([]report.EngineSummary, error)
}

// Ledger serves the direct ledger queries and corrections
type Ledger interface {
	TotalRevenue(ctx context.Context) (ledger.Amount, error)
	RevenueByEngine(ctx context.Context) (map[string]ledger.Amount, error)
	RecentTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error)
	AppendTransaction(ctx context.Context, engine, kind string, amount ledger.Amount, description string) (*ledger.Transaction, error)
}

type actionKind int

const (
	queryAction actionKind = iota
	engineAction
)

type action struct {
	kind   actionKind
	schema string
	handle func(d *Dispatcher, ctx context.Context, p params) (any, error)
}

// actions is the complete, closed action table
var actions = map[string]action{
	"get_dashboard_stats":     {queryAction, schemaNoParams, (*Dispatcher).dashboardStats},
	"get_revenue_report":      {queryAction, schemaNoParams, (*Dispatcher).revenueReport},
	"get_engine_report":       {queryAction, schemaEngine, (*Dispatcher).engineReport},
	"list_engines":            {queryAction, schemaNoParams, (*Dispatcher).listEngines},
	"get_recent_transactions": {queryAction, schemaRecentTransactions, (*Dispatcher).recentTransactions},
	"get_total_revenue":       {queryAction, schemaNoParams, (*Dispatcher).totalRevenue},
	"get_revenue_by_engine":   {queryAction, schemaNoParams, (*Dispatcher).revenueByEngine},
	"list_runs":               {queryAction, schemaListRuns, (*Dispatcher).listRuns},
	"run_engine":              {engineAction, schemaRunEngine, (*Dispatcher).runEngine},
	"activate_engines":        {engineAction, schemaActivateEngines, (*Dispatcher).activateEngines},
	"reset_engine":            {engineAction, schemaEngine, (*Dispatcher).resetEngine},
	"record_correction":       {engineAction, schemaRecordCorrection, (*Dispatcher).recordCorrection},
}

// Actions lists every action name, sorted
func Actions() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsQuery reports whether action is a read-only query
func IsQuery(name string) bool {
	a, ok := actions[name]
	return ok && a.kind == queryAction
}

// Dispatcher resolves actions and runs them
type Dispatcher struct {
	runner  Runner
	reports Reports
	ledger  Ledger
	schemas map[string]*jsonschema.Schema
	logger  *zap.SugaredLogger
}

// New compiles every action schema and returns a ready dispatcher
func New(r Runner, reports Reports, l Ledger, log *zap.SugaredLogger) (*Dispatcher, error) {
	if log == nil {
		log = logger.Logger
	}
	d := &Dispatcher{
		runner:  r,
		reports: reports,
		ledger:  l,
		schemas: make(map[string]*jsonschema.Schema, len(actions)),
		logger:  log,
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for name, a := range actions {
		url := fmt.Sprintf("https://nexus.schemas.local/actions/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(a.schema)); err != nil {
			return nil, errors.Wrapf(err, "load schema for %s", name)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, errors.Wrapf(err, "compile schema for %s", name)
		}
		d.schemas[name] = compiled
	}
	return d, nil
}

// Dispatch validates and runs one request. Nothing with side effects is
// touched before the action is known and its parameters validate.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	start := time.Now()
	result, err := d.dispatch(ctx, req)
	if _, partial := result.(RunResult); err != nil && !partial {
		result = nil
	}

	c := Classify(err)
	resp := Response{Success: err == nil, Result: result, RequestID: logger.RequestID(ctx), Status: c.Status}
	log := logger.FromContext(ctx, d.logger).With(logger.FieldAction, req.Action)
	if err != nil {
		resp.Error = c.Message
		resp.Code = c.Code
		if c.Status >= 500 {
			log.Errorw("Action failed", logger.FieldErrorCode, c.Code, logger.FieldError, err)
		} else {
			log.Infow("Action rejected", logger.FieldErrorCode, c.Code, logger.FieldError, err)
		}
	}
	log.Debugw("Action handled",
		"success", resp.Success,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (any, error) {
	a, ok := actions[req.Action]
	if !ok {
		return nil, errors.NewUnknownActionError(req.Action)
	}
	p := params(req.Params)
	if p == nil {
		p = params{}
	}
	if err := d.validate(req.Action, p); err != nil {
		return nil, err
	}
	return a.handle(d, ctx, p)
}

func (d *Dispatcher) validate(name string, p params) error {
	err := d.schemas[name].Validate(map[string]any(p))
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return errors.NewValidationError("", "%s", err)
	}
	leaf := deepestCause(verr)
	return errors.NewValidationError(fieldName(leaf.InstanceLocation), "%s", leaf.Message)
}

// deepestCause follows the first cause chain to the most specific failure
func deepestCause(v *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(v.Causes) > 0 {
		v = v.Causes[0]
	}
	return v
}

// fieldName renders a JSON pointer as a dotted field name
func fieldName(pointer string) string {
	return strings.ReplaceAll(strings.TrimPrefix(pointer, "/"), "/", ".")
}

// params is a validated parameter object
type params map[string]any

func (p params) str(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p params) intOr(key string, def int) int {
	switch v := p[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func (p params) object(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

func (p params) strings(key string) []string {
	items, _ := p[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// amount reads a decimal amount given as a string or a JSON number literal
func (p params) amount(key string) (ledger.Amount, error) {
	var text string
	switch v := p[key].(type) {
	case string:
		text = v
	case json.Number:
		text = v.String()
	default:
		return 0, errors.NewValidationError(key, "must be a decimal string or number")
	}
	amt, err := ledger.ParseAmount(text)
	if err != nil {
		return 0, errors.NewValidationError(key, "%s", err)
	}
	return amt, nil
}
