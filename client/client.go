// Package client calls procedures on a jayrpc server over HTTP.
//
//	c := client.New("http://localhost:8080/rpc",
//	    client.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})))
//	var sum float64
//	err := c.Call(ctx, "add", map[string]int{"a": 1, "b": 2}, &sum)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/mnehpets/jayrpc/jsonrpc"
	"golang.org/x/oauth2"
)

// ErrBadReply is returned when the server reply cannot be matched to the
// calls that were sent.
var ErrBadReply = errors.New("client: malformed reply")

// Client is a JSON-RPC client. It is safe for concurrent use.
type Client struct {
	url     string
	http    *http.Client
	version string
	header  http.Header
	nextID  atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTokenSource authenticates every request with a bearer token from ts.
// It wraps the transport of the current HTTP client, so it must follow
// WithHTTPClient when both are used.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc := *c.http
		hc.Transport = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, ts), Base: base}
		c.http = &hc
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// WithProtocolVersion sets the jsonrpc member sent with each call.
func WithProtocolVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// New creates a Client for the endpoint at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		http:    &http.Client{},
		version: jsonrpc.Version,
		header:  make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	ID      any    `json:"id,omitempty"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpc.Error  `json:"error"`
}

// Call invokes method and decodes its result into result, which may be nil.
// A JSON-RPC error reply is returned as *jsonrpc.Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	req := request{ID: c.nextID.Add(1), JSONRPC: c.version, Method: method, Params: params}
	replies, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if len(replies) != 1 {
		return fmt.Errorf("%w: got %d responses for one call", ErrBadReply, len(replies))
	}
	return decodeResult(replies[0], result)
}

// Notify invokes method without an id and ignores the result. The server
// still answers, so an error reply is returned as *jsonrpc.Error.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	replies, err := c.do(ctx, request{JSONRPC: c.version, Method: method, Params: params})
	if err != nil {
		return err
	}
	if len(replies) == 1 && replies[0].Error != nil {
		return replies[0].Error
	}
	return nil
}

// BatchCall is one call of a batch. After Batch returns, Error holds the
// call's JSON-RPC error, if any, and Result has been decoded into.
type BatchCall struct {
	Method string
	Params any
	Result any
	Error  error
}

// Batch sends calls as one transaction. Replies are matched to calls by
// position. The returned error covers transport and transaction failures;
// per-call failures are stored in each BatchCall.
func (c *Client) Batch(ctx context.Context, calls []*BatchCall) error {
	if len(calls) == 0 {
		return nil
	}
	reqs := make([]request, len(calls))
	for i, call := range calls {
		reqs[i] = request{ID: c.nextID.Add(1), JSONRPC: c.version, Method: call.Method, Params: call.Params}
	}
	replies, err := c.do(ctx, reqs)
	if err != nil {
		return err
	}
	if len(replies) != len(calls) {
		if len(replies) == 1 && replies[0].Error != nil && len(replies[0].ID) == 0 {
			return replies[0].Error
		}
		return fmt.Errorf("%w: got %d responses for %d calls", ErrBadReply, len(replies), len(calls))
	}
	for i, call := range calls {
		call.Error = decodeResult(replies[i], call.Result)
	}
	return nil
}

func decodeResult(r response, result any) error {
	if r.Error != nil {
		return r.Error
	}
	if result == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, result)
}

func (c *Client) do(ctx context.Context, payload any) ([]response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return parseReply(data)
}

// parseReply accepts a single object or an array of responses.
func parseReply(data []byte) ([]response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadReply)
	}
	if data[0] == '[' {
		var rs []response
		if err := json.Unmarshal(data, &rs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
		}
		return rs, nil
	}
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	return []response{r}, nil
}
