// Package engine defines the contract every engine implements.
//
// An engine is anything with a Run method. The runner, registry and reports
// never depend on what an engine does, only on the Result it returns: zero
// or more ledger entries plus a free-form summary for display.
package engine

import (
	"context"

	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/provider"
)

// Request is the input to one run
type Request struct {
	Engine    string
	RunID     string
	Params    map[string]any
	Providers *provider.Set
}

// Result is what a successful run reports. Entries are appended to the
// ledger in order; Summary is returned to the caller as-is.
type Result struct {
	Entries []ledger.Entry `json:"entries"`
	Summary map[string]any `json:"summary,omitempty"`
}

// Capability is the single operation every engine implements.
//
// Run must honour ctx: the runner abandons a run at its deadline and
// discards any late result.
type Capability interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a plain function to Capability
type Func func(ctx context.Context, req Request) (*Result, error)

// Run calls f
func (f Func) Run(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
