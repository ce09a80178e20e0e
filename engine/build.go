package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/provider"
)

// Kind for fee entries recorded by quote engines
const KindCost = "cost"

// Build constructs the capability described by an engine declaration.
// The provider is resolved once, here; a missing provider is a config error.
func Build(spec am.EngineConfig, providers *provider.Set) (Capability, error) {
	fetcher, ok := providers.Get(spec.Provider)
	if !ok {
		return nil, errors.Newf("engine %q: provider %q is not configured", spec.Name, spec.Provider)
	}

	switch spec.Kind {
	case am.EngineKindWebhook:
		return &webhook{spec: spec, fetcher: fetcher}, nil
	case am.EngineKindQuote:
		q := &quote{spec: spec, fetcher: fetcher}
		if raw, ok := spec.Config["fee"]; ok {
			fee, err := ledger.ParseAmount(fmt.Sprint(raw))
			if err != nil {
				return nil, errors.Wrapf(err, "engine %q: config.fee", spec.Name)
			}
			if fee < 0 {
				return nil, errors.Newf("engine %q: config.fee must not be negative", spec.Name)
			}
			q.fee = fee
		}
		return q, nil
	default:
		return nil, errors.Newf("engine %q: unknown kind %q", spec.Name, spec.Kind)
	}
}

// webhook hands the run to a provider endpoint, which performs the real side
// effect and reports its outcome:
//
//	{"entries": [{"kind": "sale", "amount": "12.50", "description": "..."}], "summary": {...}}
type webhook struct {
	spec    am.EngineConfig
	fetcher provider.Fetcher
}

type webhookPayload struct {
	Engine string         `json:"engine"`
	RunID  string         `json:"run_id"`
	Params map[string]any `json:"params,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

func (w *webhook) Run(ctx context.Context, req Request) (*Result, error) {
	method := w.spec.Method
	if method == "" {
		method = http.MethodPost
	}

	resp, err := w.fetcher.Fetch(ctx, provider.Request{
		Method: method,
		Path:   w.spec.Path,
		Body: webhookPayload{
			Engine: req.Engine,
			RunID:  req.RunID,
			Params: req.Params,
			Config: w.spec.Config,
		},
		Header: http.Header{"Idempotency-Key": {req.RunID}},
	})
	if err != nil {
		return nil, err
	}

	var result Result
	if err := resp.JSON(&result); err != nil {
		return nil, err
	}
	for i := range result.Entries {
		if strings.TrimSpace(result.Entries[i].Kind) == "" {
			result.Entries[i].Kind = ledger.KindJobRun
		}
	}
	return &result, nil
}

// quote reads a data endpoint (prices, rates, weather) and returns the payload
// as the run summary. It records money only when a per-run fee is configured.
type quote struct {
	spec    am.EngineConfig
	fetcher provider.Fetcher
	fee     ledger.Amount
}

func (q *quote) Run(ctx context.Context, req Request) (*Result, error) {
	query := url.Values{}
	for k, v := range req.Params {
		query.Set(k, fmt.Sprint(v))
	}

	resp, err := q.fetcher.Fetch(ctx, provider.Request{
		Method: q.spec.Method,
		Path:   q.spec.Path,
		Query:  query,
	})
	if err != nil {
		return nil, err
	}

	var payload any
	if err := resp.JSON(&payload); err != nil {
		return nil, err
	}

	result := &Result{Summary: map[string]any{
		"provider": q.spec.Provider,
		"quote":    payload,
	}}
	if q.fee > 0 {
		result.Entries = append(result.Entries, ledger.Entry{
			Kind:        KindCost,
			Amount:      -q.fee,
			Description: fmt.Sprintf("%s request fee", q.spec.Provider),
		})
	}
	return result, nil
}
