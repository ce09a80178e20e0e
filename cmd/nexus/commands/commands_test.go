package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/api"
	"github.com/teranos/nexus/server"
)

func TestMain(m *testing.M) {
	pterm.DisableColor()
	pterm.DisableStyling()
	os.Exit(m.Run())
}

// execute runs the CLI with args against a fresh root command
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := &cobra.Command{Use: "nexus", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().CountP("verbose", "v", "")
	root.PersistentFlags().Bool("json-logs", false, "")
	root.PersistentFlags().Bool("json", false, "")
	root.PersistentFlags().String("server", "", "")
	Register(root)

	// Command flags are package state; start every run from defaults
	runParams = nil
	runsLimit = 20
	reportRevenue = false
	configFormat = "toml"
	initForce = false
	for _, c := range root.Commands() {
		resetFlags(c)
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		// Array flags write through to the package vars cleared above
		if !strings.HasSuffix(f.Value.Type(), "Array") {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// webhookSink answers engine runs with one sale of 12.50
func webhookSink(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"entries":[{"kind":"sale","amount":"12.50","description":"order for %v"}],"summary":{"params":%d}}`,
			body["engine"], len(mapOf(body["params"])))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func mapOf(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// project writes an am.toml into a fresh working directory
func project(t *testing.T, providerURL string) string {
	t.Helper()
	dir := t.TempDir()
	config := fmt.Sprintf(`
[database]
driver = "sqlite"
path = %q

[providers.sink]
base_url = %q
allow_private = true

[[engines]]
name = "alpha"
kind = "webhook"
provider = "sink"
path = "/run"

[[engines]]
name = "beta"
kind = "webhook"
provider = "sink"
path = "/run"
`, filepath.Join(dir, "nexus.db"), providerURL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "am.toml"), []byte(config), 0o644))

	t.Chdir(dir)
	t.Setenv("HOME", dir)
	am.Reset()
	t.Cleanup(am.Reset)
	return dir
}

func TestRunRecordsTransactions(t *testing.T) {
	sink, calls := webhookSink(t)
	project(t, sink.URL)

	out, err := execute(t, "run", "alpha", "--param", "region=eu", "-p", "retries=3")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha run")
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "1 transaction(s)")
	assert.Equal(t, int32(1), calls.Load())

	// The ledger persists across invocations
	out, err = execute(t, "report", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, "12.50")
	assert.Contains(t, out, "order for alpha")
}

func TestRunUnknownEngine(t *testing.T) {
	sink, _ := webhookSink(t)
	project(t, sink.URL)

	_, err := execute(t, "run", "gamma")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_engine")
}

func TestRunJSON(t *testing.T) {
	sink, _ := webhookSink(t)
	project(t, sink.URL)

	out, err := execute(t, "run", "alpha", "--json")
	require.NoError(t, err)

	var resp struct {
		Success bool `json:"success"`
		Result  struct {
			Run struct {
				Engine  string `json:"engine"`
				Outcome string `json:"outcome"`
			} `json:"run"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "alpha", resp.Result.Run.Engine)
	assert.Equal(t, "success", resp.Result.Run.Outcome)
}

func TestActivateAndEngines(t *testing.T) {
	sink, calls := webhookSink(t)
	project(t, sink.URL)

	out, err := execute(t, "activate", "alpha", "beta")
	require.NoError(t, err)
	assert.Contains(t, out, "2 succeeded, 0 failed")
	assert.Equal(t, int32(2), calls.Load())

	out, err = execute(t, "engines")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "beta")
	assert.Contains(t, out, "12.50")
}

func TestActivatePartialFailure(t *testing.T) {
	sink, _ := webhookSink(t)
	project(t, sink.URL)

	out, err := execute(t, "activate", "alpha", "gamma")
	require.Error(t, err)
	assert.Contains(t, out, "1 succeeded, 1 failed")
	assert.Contains(t, err.Error(), "1 of 2 engines failed")
}

func TestCorrectAndReport(t *testing.T) {
	sink, _ := webhookSink(t)
	project(t, sink.URL)

	_, err := execute(t, "run", "alpha")
	require.NoError(t, err)

	out, err := execute(t, "correct", "alpha", "--", "-2.5", "refund", "for", "duplicate")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded correction")
	assert.Contains(t, out, "-2.50")

	out, err = execute(t, "report", "--json")
	require.NoError(t, err)
	var stats struct {
		TotalRevenue string `json:"total_revenue"`
		TotalEngines int    `json:"total_engines"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "10.00", stats.TotalRevenue)
	assert.Equal(t, 2, stats.TotalEngines)

	out, err = execute(t, "report", "--revenue")
	require.NoError(t, err)
	assert.Contains(t, out, "refund for duplicate")
}

func TestCorrectRejectsBadAmount(t *testing.T) {
	sink, calls := webhookSink(t)
	project(t, sink.URL)

	_, err := execute(t, "correct", "alpha", "12.345678", "too precise")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decimal places")
	assert.Zero(t, calls.Load())
}

func TestResetHealthyEngine(t *testing.T) {
	sink, _ := webhookSink(t)
	project(t, sink.URL)

	out, err := execute(t, "reset", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha reset to inactive")
}

func TestCallCommand(t *testing.T) {
	sink, _ := webhookSink(t)
	project(t, sink.URL)

	t.Run("query with params", func(t *testing.T) {
		out, err := execute(t, "call", "get_recent_transactions", `{"limit": 5}`)
		require.NoError(t, err)
		var resp api.Response
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.True(t, resp.Success)
	})

	t.Run("unknown action prints envelope", func(t *testing.T) {
		out, err := execute(t, "call", "launch_rockets")
		require.Error(t, err)
		var resp api.Response
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "unknown_action", resp.Code)
	})

	t.Run("params must be an object", func(t *testing.T) {
		_, err := execute(t, "call", "list_runs", `[1,2]`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a JSON object")
	})

	t.Run("params cannot carry the action", func(t *testing.T) {
		_, err := execute(t, "call", "list_runs", `{"action":"reset_engine"}`)
		require.Error(t, err)
	})
}

// fakeServer answers /api/nexus with a canned envelope and records requests
func fakeServer(t *testing.T, status int, resp api.Response) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var seen []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/nexus" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		body["_request_id"] = r.Header.Get("X-Request-Id")
		seen = append(seen, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestRemoteDispatch(t *testing.T) {
	// No project config: --server must not touch the local ledger
	t.Chdir(t.TempDir())
	am.Reset()
	t.Cleanup(am.Reset)

	srv, seen := fakeServer(t, http.StatusOK, api.Response{
		Success: true,
		Result: map[string]any{"engines": []map[string]any{
			{"name": "remote-one", "status": "active", "total_earnings": "7.00", "period_earnings": "1.00"},
		}},
	})

	out, err := execute(t, "engines", "--server", srv.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, out, "remote-one")
	assert.Contains(t, out, "7.00")

	require.Len(t, *seen, 1)
	assert.Equal(t, "list_engines", (*seen)[0]["action"])
	assert.NotEmpty(t, (*seen)[0]["_request_id"])
}

func TestRemoteDispatchError(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusConflict, api.Response{
		Success: false,
		Error:   `engine "alpha" is already running`,
		Code:    "already_running",
	})

	_, err := execute(t, "reset", "alpha", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already_running")
}

func TestRemoteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newRemote(url)
	resp := d.Dispatch(t.Context(), api.Request{Action: "list_runs", Params: map[string]any{}})
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.NotEmpty(t, resp.RequestID)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"region=eu", "retries=3", "dry=true", "tags=[\"a\"]", "note=3 apples", "empty="})
	require.NoError(t, err)

	assert.Equal(t, "eu", params["region"])
	assert.Equal(t, json.Number("3"), params["retries"])
	assert.Equal(t, true, params["dry"])
	assert.Equal(t, []any{"a"}, params["tags"])
	assert.Equal(t, "3 apples", params["note"])
	assert.Equal(t, "", params["empty"])

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func TestAmCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	am.Reset()
	t.Cleanup(am.Reset)

	out, err := execute(t, "am", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "am.toml")
	assert.FileExists(t, filepath.Join(dir, "am.toml"))

	_, err = execute(t, "am", "init")
	require.Error(t, err, "existing file needs --force")

	_, err = execute(t, "am", "init", "--force")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "am.toml.back1"))

	am.Reset()
	out, err = execute(t, "am", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid (1 engines)")

	am.Reset()
	out, err = execute(t, "am", "show", "--format", "json")
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Contains(t, shown, "Engines")

	am.Reset()
	out, err = execute(t, "am", "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "btc-quote")

	am.Reset()
	_, err = execute(t, "am", "show", "--format", "ini")
	require.Error(t, err)
}

func TestAmShowRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	config := `
[providers.paid]
base_url = "https://api.example.com"
api_key = "sk-live-secret"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "am.toml"), []byte(config), 0o644))
	am.Reset()
	t.Cleanup(am.Reset)

	out, err := execute(t, "am", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-live-secret")
	assert.Contains(t, out, "********")
}

func TestDbCommands(t *testing.T) {
	sink, _ := webhookSink(t)
	dir := project(t, sink.URL)

	out, err := execute(t, "db", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "nexus.db"))

	_, err = execute(t, "run", "alpha")
	require.NoError(t, err)

	out, err = execute(t, "db", "stats", "--json")
	require.NoError(t, err)
	var stats dbStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Engines)
	assert.Equal(t, int64(1), stats.Transactions)
	assert.Equal(t, "12.50", stats.TotalRevenue.String())
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Platform:")
}

type staticDispatcher struct{}

func (staticDispatcher) Dispatch(context.Context, api.Request) api.Response {
	return api.Response{Success: true}
}

func TestShutdownIdleServer(t *testing.T) {
	srv, err := server.New(server.Options{Dispatcher: staticDispatcher{}})
	require.NoError(t, err)

	assert.NoError(t, shutdown(nil, srv), "a server that never listened shuts down cleanly")
}
