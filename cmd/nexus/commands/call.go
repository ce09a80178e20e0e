package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/nexus/api"
	"github.com/teranos/nexus/display"
	"github.com/teranos/nexus/errors"
)

// CallCmd sends any action, exactly as a dashboard would
var CallCmd = &cobra.Command{
	Use:   "call <action> [params-json]",
	Short: "Send any orchestrator action",
	Long: `Send one action with an optional JSON object of parameters and print the
response envelope.

Examples:
  nexus call get_dashboard_stats
  nexus call get_recent_transactions '{"limit": 5}'
  nexus call run_engine '{"engine": "btc-quote"}' --server http://localhost:8787`,
	Args: cobra.RangeArgs(1, 2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return api.Actions(), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: runCall,
}

func runCall(cmd *cobra.Command, args []string) error {
	params := map[string]any{}
	if len(args) == 2 {
		dec := json.NewDecoder(strings.NewReader(args[1]))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			return errors.NewValidationError("params", "must be a JSON object: %s", err)
		}
		if _, ok := params["action"]; ok {
			return errors.NewValidationError("params", "must not repeat the action")
		}
	}

	resp, err := call(cmd, args[0], params)
	if !resp.Success && resp.Code == "" {
		// Nothing was dispatched
		return err
	}
	if werr := display.WriteJSON(cmd.OutOrStdout(), resp); werr != nil {
		return werr
	}
	return err
}

// parseParams turns key=value pairs into an engine parameter object.
// Values that parse as JSON keep their type; anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.NewValidationError("param", "%q is not key=value", pair)
		}
		params[key] = paramValue(value)
	}
	return params, nil
}

func paramValue(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}

// describeActions lists the action table for help output
func describeActions() string {
	var b strings.Builder
	for _, name := range api.Actions() {
		kind := "engine"
		if api.IsQuery(name) {
			kind = "query"
		}
		fmt.Fprintf(&b, "  %-24s %s\n", name, kind)
	}
	return b.String()
}

func init() {
	CallCmd.Long += "\n\nActions:\n" + describeActions()
}
