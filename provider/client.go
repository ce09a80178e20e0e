// Package provider is the narrow client engines use to reach third-party data
// and AI services. The core never embeds provider-specific logic: a provider is
// a base URL, optional credentials, a timeout and a request pace.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/internal/httpclient"
	"github.com/teranos/nexus/logger"
)

// DefaultTimeout bounds a single provider call when the provider sets none
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a provider response is read
const maxResponseBytes = 4 << 20

// ErrUpstream marks non-2xx provider responses
var ErrUpstream = errors.New("provider returned an error status")

// Request is one call to a provider, relative to its base URL
type Request struct {
	Method string
	Path   string     // may carry its own query string
	Query  url.Values // merged into Path's query
	Body   any        // JSON-encoded when non-nil
	Header http.Header
}

// Response is a fully read provider response
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the response body into v
func (r *Response) JSON(v any) error {
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode provider response")
	}
	return nil
}

// Fetcher is what engines see of a provider
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Client calls one configured provider
type Client struct {
	name         string
	base         *url.URL
	apiKey       string
	apiKeyHeader string
	timeout      time.Duration
	http         *httpclient.SaferClient
	limiter      *rate.Limiter // nil = unpaced
	logger       *zap.SugaredLogger
}

// NewClient builds a client from provider configuration
func NewClient(name string, cfg am.ProviderConfig, log *zap.SugaredLogger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "provider %q: invalid base_url", name)
	}
	if log == nil {
		log = logger.Logger
	}

	timeout := DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	c := &Client{
		name:         name,
		base:         base,
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		timeout:      timeout,
		http:         httpclient.New(timeout, httpclient.Options{AllowPrivate: cfg.AllowPrivate}),
		logger:       log.With(logger.FieldProvider, name),
	}
	if cfg.RequestsPerMinute > 0 {
		// Burst of one spaces calls evenly across the minute
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

// Name returns the provider name
func (c *Client) Name() string { return c.name }

// Fetch performs the request within the provider timeout and the caller's
// deadline, whichever is sooner. Waiting for the rate limiter counts against
// the same deadline.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "provider %q: rate limit wait", c.name), errors.ErrTimeout)
		}
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Mark(errors.Wrapf(ctx.Err(), "provider %q", c.name), errors.ErrTimeout)
		}
		return nil, errors.Wrapf(err, "provider %q", c.name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "provider %q: read response", c.name)
	}

	c.logger.Debugw("Provider call",
		logger.FieldMethod, httpReq.Method,
		logger.FieldPath, httpReq.URL.Path,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.WithDetail(
			errors.Wrapf(ErrUpstream, "provider %q: HTTP %d", c.name, resp.StatusCode),
			snippet(body))
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	rel, err := url.Parse(req.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "provider %q: invalid path %q", c.name, req.Path)
	}
	if rel.IsAbs() || rel.Host != "" {
		return nil, errors.Newf("provider %q: path must be relative to the base URL", c.name)
	}

	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(rel.Path, "/")
	query := rel.Query()
	for k, vs := range req.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u.RawQuery = query.Encode()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "encode provider request")
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrapf(err, "provider %q: build request", c.name)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		if c.apiKeyHeader == "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		} else {
			httpReq.Header.Set(c.apiKeyHeader, c.apiKey)
		}
	}
	return httpReq, nil
}

func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
