package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teranos/nexus/api"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/internal/httpclient"
	"github.com/teranos/nexus/logger"
)

// remoteTimeout bounds one call to a running server; engine runs are
// deadline-bound server side, so this only needs headroom above them
const remoteTimeout = 5 * time.Minute

// dispatcher sends one action and returns its envelope
type dispatcher interface {
	Dispatch(ctx context.Context, req api.Request) api.Response
}

// connect returns a dispatcher for the command: a running server when
// --server is set, otherwise an in-process orchestrator over the local ledger.
// The returned func releases whatever was opened.
func connect(cmd *cobra.Command) (dispatcher, func(), error) {
	if url, _ := cmd.Flags().GetString("server"); url != "" {
		return newRemote(url), func() {}, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cmd.Context(), cfg, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return a.dispatcher, func() { a.Close() }, nil
}

// remote posts actions to a nexus server's /api/nexus endpoint
type remote struct {
	endpoint string
	client   *httpclient.SaferClient
}

func newRemote(base string) *remote {
	return &remote{
		endpoint: strings.TrimRight(base, "/") + "/api/nexus",
		// The server is usually on loopback or a private network
		client: httpclient.New(remoteTimeout, httpclient.Options{AllowPrivate: true}),
	}
}

func (r *remote) Dispatch(ctx context.Context, req api.Request) api.Response {
	requestID := logger.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	resp, err := r.post(ctx, req, requestID)
	if err != nil {
		c := api.Classify(err)
		return api.Response{Error: c.Message, Code: c.Code, Status: c.Status, RequestID: requestID}
	}
	return resp
}

func (r *remote) post(ctx context.Context, req api.Request, requestID string) (api.Response, error) {
	body := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		body[k] = v
	}
	body["action"] = req.Action

	payload, err := json.Marshal(body)
	if err != nil {
		return api.Response{}, errors.NewValidationError("", "encode request: %s", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return api.Response{}, errors.NewValidationError("server", "%s", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return api.Response{}, errors.WithHint(errors.Wrapf(err, "reach %s", r.endpoint), "is 'nexus server' running?")
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return api.Response{}, errors.Wrap(err, "read response")
	}

	var resp api.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return api.Response{}, errors.Wrapf(err, "server answered %d with a non-envelope body", httpResp.StatusCode)
	}
	resp.Status = httpResp.StatusCode
	return resp, nil
}

// call dispatches one action and turns an unsuccessful envelope into an error
func call(cmd *cobra.Command, action string, params map[string]any) (api.Response, error) {
	d, release, err := connect(cmd)
	if err != nil {
		return api.Response{}, err
	}
	defer release()

	req, err := newRequest(action, params)
	if err != nil {
		return api.Response{}, err
	}
	resp := d.Dispatch(cmd.Context(), req)
	if !resp.Success {
		return resp, responseError(resp)
	}
	return resp, nil
}

// newRequest shapes params the way the HTTP endpoint would decode them, so
// in-process and remote dispatch validate identical values
func newRequest(action string, params map[string]any) (api.Request, error) {
	body := map[string]any{"action": action}
	for k, v := range params {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return api.Request{}, errors.NewValidationError("", "encode request: %s", err)
	}
	return api.DecodeRequest(bytes.NewReader(data))
}

// responseError renders a failed envelope as a CLI error
func responseError(resp api.Response) error {
	if resp.Code == "" {
		return errors.New(resp.Error)
	}
	return errors.Newf("%s (%s)", resp.Error, resp.Code)
}

// decodeResult converts an envelope's result into a typed value. In-process
// results are Go values and remote ones are decoded JSON; both round-trip.
func decodeResult(resp api.Response, out any) error {
	data, err := json.Marshal(resp.Result)
	if err != nil {
		return errors.Wrap(err, "encode result")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(err, "decode result")
	}
	return nil
}
