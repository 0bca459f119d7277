package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/go-cmp/cmp"
	"github.com/google/jsonschema-go/jsonschema"
)

var addSchema = MustSchema(`{
	"type": "object",
	"properties": {
		"a": {"type": "number"},
		"b": {"type": "number"}
	},
	"required": ["a", "b"]
}`)

type addParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type notFoundError struct{ what string }

func (e *notFoundError) Error() string { return e.what + " not found" }

var errDenied = errors.New("denied")

func newTestServer(opts ...Option) *Server {
	s := NewServer(append([]Option{WithLogger(log.NewNopLogger())}, opts...)...)
	s.Register(
		Func("ping", nil, func(ctx context.Context, _ json.RawMessage, _ *State) (any, error) {
			return "pong", nil
		}),
		Typed("add", addSchema, func(ctx context.Context, p addParams, _ *State) (any, error) {
			return p.A + p.B, nil
		}),
		Func("echo", nil, func(ctx context.Context, params json.RawMessage, _ *State) (any, error) {
			return params, nil
		}),
		Func("fail", nil, func(ctx context.Context, params json.RawMessage, _ *State) (any, error) {
			var kind string
			_ = json.Unmarshal(params, &kind)
			switch kind {
			case "explicit":
				return nil, NewError(42, "explicit code")
			case "notfound":
				return nil, fmt.Errorf("lookup: %w", &notFoundError{what: "user"})
			case "denied":
				return nil, fmt.Errorf("policy: %w", errDenied)
			case "panic":
				panic("kaboom")
			}
			return nil, errors.New("boom")
		}),
	)
	return s
}

func serveRPC(s http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeObject(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func decodeArray(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var resp []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func errorCode(t *testing.T, resp map[string]any) int {
	t.Helper()
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error response, got %v", resp)
	}
	return int(errObj["code"].(float64))
}

func errorMessage(t *testing.T, resp map[string]any) string {
	t.Helper()
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error response, got %v", resp)
	}
	return errObj["message"].(string)
}

func TestPOSTOnlyEnforcement(t *testing.T) {
	var hookCalls atomic.Int32
	s := newTestServer()
	s.Use(Hooks{Request: func(context.Context, *http.Request, *State) error {
		hookCalls.Add(1)
		return nil
	}})

	tests := []struct {
		method   string
		wantCode int
	}{
		{http.MethodGet, CodeInvalidRequest},
		{http.MethodPut, CodeInvalidRequest},
		{http.MethodDelete, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":1}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("got status %d, want %d", rec.Code, http.StatusOK)
			}
			resp := decodeObject(t, rec)
			if got := errorCode(t, resp); got != tt.wantCode {
				t.Errorf("got code %d, want %d", got, tt.wantCode)
			}
			if got := errorMessage(t, resp); got != "Request method can be POST only" {
				t.Errorf("got message %q", got)
			}
			if _, ok := resp["id"]; ok {
				t.Errorf("transport error must not carry an id: %v", resp)
			}
		})
	}

	if n := hookCalls.Load(); n != 0 {
		t.Errorf("OnRequest ran %d times for rejected requests", n)
	}
}

func TestContentTypeEnforcement(t *testing.T) {
	s := newTestServer()

	tests := []struct {
		contentType string
		wantError   bool
	}{
		{"", true},
		{"text/plain", true},
		{"application/x-www-form-urlencoded", true},
		{"application/json", false},
		{"application/json; charset=utf-8", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":1}`))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			resp := decodeObject(t, rec)
			if tt.wantError {
				if got := errorCode(t, resp); got != CodeInvalidRequest {
					t.Errorf("got code %d, want %d", got, CodeInvalidRequest)
				}
				if got := errorMessage(t, resp); got != "Invalid content type" {
					t.Errorf("got message %q", got)
				}
				return
			}
			if resp["result"] != "pong" {
				t.Errorf("got %v, want pong result", resp)
			}
		})
	}
}

func TestSingleRequestCollapsesToObject(t *testing.T) {
	s := newTestServer()

	rec := serveRPC(s, `{"id":"x","jsonrpc":"2.0","method":"add","params":{"a":1,"b":2}}`)

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("got content type %q", got)
	}
	if want := `{"id":"x","jsonrpc":"2.0","result":3}`; rec.Body.String() != want {
		t.Errorf("got body %s, want %s", rec.Body.String(), want)
	}
}

func TestBatchOfOneCollapsesToObject(t *testing.T) {
	s := newTestServer()

	rec := serveRPC(s, `[{"id":1,"jsonrpc":"2.0","method":"ping"}]`)

	if want := `{"id":1,"jsonrpc":"2.0","result":"pong"}`; rec.Body.String() != want {
		t.Errorf("got body %s, want %s", rec.Body.String(), want)
	}
}

func TestBatchPreservesOrder(t *testing.T) {
	s := newTestServer()

	body := `[
		{"jsonrpc":"2.0","method":"add","params":{"a":1,"b":2},"id":1},
		{"jsonrpc":"2.0","method":"add","params":{"a":3,"b":4},"id":2},
		{"jsonrpc":"2.0","method":"add","params":{"a":5,"b":6},"id":3}
	]`
	resp := decodeArray(t, serveRPC(s, body))

	want := []map[string]any{
		{"id": float64(1), "jsonrpc": "2.0", "result": float64(3)},
		{"id": float64(2), "jsonrpc": "2.0", "result": float64(7)},
		{"id": float64(3), "jsonrpc": "2.0", "result": float64(11)},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("batch reply mismatch (-want +got):\n%s", diff)
	}
}

func TestBatchWithUnknownMethod(t *testing.T) {
	s := newTestServer()

	resp := decodeArray(t, serveRPC(s, `[{"jsonrpc":"2.0","method":"ping"},{"jsonrpc":"2.0","method":"unknown"}]`))

	want := []map[string]any{
		{"id": float64(0), "jsonrpc": "2.0", "result": "pong"},
		{"id": float64(1), "error": map[string]any{"code": float64(CodeMethodNotFound), "message": "Method not found"}},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("batch reply mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingIDFallsBackToPosition(t *testing.T) {
	s := newTestServer()

	resp := decodeObject(t, serveRPC(s, `{"jsonrpc":"2.0","method":"ping"}`))

	if resp["id"] != float64(0) {
		t.Errorf("got id %v, want 0", resp["id"])
	}
	if resp["result"] != "pong" {
		t.Errorf("got result %v, want pong", resp["result"])
	}
}

func TestVersionMismatchIsolated(t *testing.T) {
	s := newTestServer()

	body := `[
		{"jsonrpc":"2.0","method":"ping","id":1},
		{"jsonrpc":"1.0","method":"ping","id":2},
		{"method":"ping","id":3},
		{"jsonrpc":"2.0","method":"ping","id":4}
	]`
	resp := decodeArray(t, serveRPC(s, body))

	if len(resp) != 4 {
		t.Fatalf("got %d responses, want 4", len(resp))
	}
	for _, i := range []int{0, 3} {
		if resp[i]["result"] != "pong" {
			t.Errorf("response %d: got %v, want pong", i, resp[i])
		}
	}
	for _, i := range []int{1, 2} {
		if got := errorCode(t, resp[i]); got != CodeInvalidRequest {
			t.Errorf("response %d: got code %d, want %d", i, got, CodeInvalidRequest)
		}
		if resp[i]["id"] != float64(i+1) {
			t.Errorf("response %d: got id %v, want %d", i, resp[i]["id"], i+1)
		}
	}
}

func TestCustomProtocolVersion(t *testing.T) {
	s := newTestServer(WithProtocolVersion("3.0"))

	resp := decodeObject(t, serveRPC(s, `{"jsonrpc":"3.0","method":"ping","id":"a"}`))
	if resp["jsonrpc"] != "3.0" || resp["result"] != "pong" {
		t.Errorf("got %v", resp)
	}

	resp = decodeObject(t, serveRPC(s, `{"jsonrpc":"2.0","method":"ping","id":"a"}`))
	if got := errorCode(t, resp); got != CodeInvalidRequest {
		t.Errorf("got code %d, want %d", got, CodeInvalidRequest)
	}
}

func TestInvalidParamsHasNoID(t *testing.T) {
	s := newTestServer()

	resp := decodeObject(t, serveRPC(s, `{"jsonrpc":"2.0","method":"add","params":{"a":"one"},"id":7}`))

	if got := errorCode(t, resp); got != CodeInvalidParams {
		t.Errorf("got code %d, want %d", got, CodeInvalidParams)
	}
	if errorMessage(t, resp) == "" {
		t.Error("expected a validation message")
	}
	if _, ok := resp["id"]; ok {
		t.Errorf("validation failure must not carry an id: %v", resp)
	}
}

func TestInvalidParamsMessagesJoined(t *testing.T) {
	validator := ValidatorFunc(func(_ *jsonschema.Schema, _ json.RawMessage) ([]string, error) {
		return []string{"a is required", "b must be a number"}, nil
	})
	s := newTestServer(WithValidator(validator))

	resp := decodeObject(t, serveRPC(s, `{"jsonrpc":"2.0","method":"add","params":{},"id":1}`))

	if got := errorCode(t, resp); got != CodeInvalidParams {
		t.Errorf("got code %d, want %d", got, CodeInvalidParams)
	}
	if got, want := errorMessage(t, resp), "a is required| b must be a number"; got != want {
		t.Errorf("got message %q, want %q", got, want)
	}
}

func TestSchemaValidatorReportsFirstViolation(t *testing.T) {
	s := newTestServer()

	resp := decodeObject(t, serveRPC(s, `{"jsonrpc":"2.0","method":"add","params":{"a":"x","b":"y"},"id":1}`))

	if got := errorCode(t, resp); got != CodeInvalidParams {
		t.Errorf("got code %d, want %d", got, CodeInvalidParams)
	}
	msg := errorMessage(t, resp)
	if msg == "" || strings.Contains(msg, "| ") {
		t.Errorf("got message %q, want a single violation", msg)
	}
}

func TestProcedureErrorResolution(t *testing.T) {
	s := newTestServer(WithErrorClasses(
		ClassOf[*notFoundError](CodeObjectNotFound),
		ClassIs(errDenied, CodeActionNotAllowed),
		ClassIs(errDenied, CodeUnauthorized), // shadowed by the entry above
	))

	tests := []struct {
		kind     string
		wantCode int
		wantMsg  string
	}{
		{"explicit", 42, "explicit code"},
		{"notfound", CodeObjectNotFound, "lookup: user not found"},
		{"denied", CodeActionNotAllowed, "policy: denied"},
		{"plain", CodeInternalError, "boom"},
		{"panic", CodeInternalError, "panic: kaboom"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			body := fmt.Sprintf(`{"jsonrpc":"2.0","method":"fail","params":%q,"id":"req-%s"}`, tt.kind, tt.kind)
			resp := decodeObject(t, serveRPC(s, body))

			if got := errorCode(t, resp); got != tt.wantCode {
				t.Errorf("got code %d, want %d", got, tt.wantCode)
			}
			if got := errorMessage(t, resp); got != tt.wantMsg {
				t.Errorf("got message %q, want %q", got, tt.wantMsg)
			}
			if resp["id"] != "req-"+tt.kind {
				t.Errorf("got id %v, want req-%s", resp["id"], tt.kind)
			}
		})
	}
}

func TestParseErrorEnvelope(t *testing.T) {
	s := newTestServer()

	for _, body := range []string{`{invalid`, ``, `[{"jsonrpc":"2.0"`} {
		rec := serveRPC(s, body)
		if want := `{"error":{"code":-32700,"message":"JSON from request can not be parsed"}}`; rec.Body.String() != want {
			t.Errorf("body %q: got %s, want %s", body, rec.Body.String(), want)
		}
	}
}

func TestEmptyBatchRequest(t *testing.T) {
	s := newTestServer()

	for _, body := range []string{`[]`, `null`, ` [ ] `} {
		resp := decodeObject(t, serveRPC(s, body))
		if got := errorCode(t, resp); got != CodeInvalidRequest {
			t.Errorf("body %q: got code %d, want %d", body, got, CodeInvalidRequest)
		}
		if got := errorMessage(t, resp); got != "No one request found" {
			t.Errorf("body %q: got message %q", body, got)
		}
	}
}

func TestOnRequestFailureAbortsTransaction(t *testing.T) {
	var calls atomic.Int32
	s := newTestServer()
	s.Register(Func("count", nil, func(context.Context, json.RawMessage, *State) (any, error) {
		calls.Add(1)
		return nil, nil
	}))
	s.Use(
		NopMiddleware{},
		Hooks{Request: func(context.Context, *http.Request, *State) error {
			return NewError(CodeUnauthorized, "missing token")
		}},
	)

	rec := serveRPC(s, `[{"jsonrpc":"2.0","method":"count","id":1},{"jsonrpc":"2.0","method":"count","id":2}]`)

	if want := `{"error":{"code":1,"message":"missing token"}}`; rec.Body.String() != want {
		t.Errorf("got body %s, want %s", rec.Body.String(), want)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("procedure ran %d times after OnRequest failure", n)
	}
}

func TestAfterCallFailureIsolated(t *testing.T) {
	s := newTestServer()
	s.Use(Hooks{After: func(_ context.Context, _ Definition, resp *Response) error {
		if resp.ID == json.Number("2") {
			return errors.New("audit failed")
		}
		return nil
	}})

	body := `[
		{"jsonrpc":"2.0","method":"ping","id":1},
		{"jsonrpc":"2.0","method":"ping","id":2},
		{"jsonrpc":"2.0","method":"ping","id":3}
	]`
	resp := decodeArray(t, serveRPC(s, body))

	want := []map[string]any{
		{"id": float64(1), "jsonrpc": "2.0", "result": "pong"},
		{"id": float64(2), "error": map[string]any{"code": float64(CodeInternalError), "message": "audit failed"}},
		{"id": float64(3), "jsonrpc": "2.0", "result": "pong"},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("batch reply mismatch (-want +got):\n%s", diff)
	}
}

func TestAfterCallCanModifyResponse(t *testing.T) {
	s := newTestServer()
	s.Use(Hooks{After: func(_ context.Context, def Definition, resp *Response) error {
		resp.Modify(func(r *Response) {
			if r.Error == nil {
				r.Result = map[string]any{"method": def.Name(), "value": r.Result}
			}
		})
		return nil
	}})

	resp := decodeObject(t, serveRPC(s, `{"jsonrpc":"2.0","method":"ping","id":1}`))

	want := map[string]any{"method": "ping", "value": "pong"}
	if diff := cmp.Diff(want, resp["result"]); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestOnResponseHeaders(t *testing.T) {
	s := newTestServer()
	s.Use(
		Hooks{Response: func(_ context.Context, h http.Header, _ *State) error {
			h.Set("X-First", "1")
			h.Add("Set-Cookie", "a=1")
			return nil
		}},
		Hooks{Response: func(_ context.Context, h http.Header, _ *State) error {
			h.Set("X-Second", "2")
			h.Add("Set-Cookie", "b=2")
			return nil
		}},
	)

	rec := serveRPC(s, `{"jsonrpc":"2.0","method":"ping","id":1}`)

	if rec.Header().Get("X-First") != "1" || rec.Header().Get("X-Second") != "2" {
		t.Errorf("missing hook headers: %v", rec.Header())
	}
	if diff := cmp.Diff([]string{"a=1", "b=2"}, rec.Header().Values("Set-Cookie")); diff != "" {
		t.Errorf("Set-Cookie mismatch (-want +got):\n%s", diff)
	}
}

func TestOnResponseFailure(t *testing.T) {
	s := newTestServer()
	s.Use(
		Hooks{Response: func(_ context.Context, h http.Header, _ *State) error {
			h.Set("X-Leak", "1")
			return nil
		}},
		Hooks{Response: func(context.Context, http.Header, *State) error {
			return NewError(CodeActionNotAllowed, "quota exceeded")
		}},
	)

	rec := serveRPC(s, `[{"jsonrpc":"2.0","method":"ping","id":1},{"jsonrpc":"2.0","method":"ping","id":2}]`)

	if want := `{"error":{"code":2,"message":"quota exceeded"}}`; rec.Body.String() != want {
		t.Errorf("got body %s, want %s", rec.Body.String(), want)
	}
	if rec.Header().Get("X-Leak") != "" {
		t.Error("headers of a failed OnResponse stage must not be applied")
	}
}

func TestStateScopedToTransaction(t *testing.T) {
	s := newTestServer()
	s.Register(Func("count", nil, func(_ context.Context, _ json.RawMessage, state *State) (any, error) {
		n, _ := StateValue[int](state, "n")
		n++
		state.Set("n", n)
		return n, nil
	}))
	s.Use(Hooks{Request: func(_ context.Context, r *http.Request, state *State) error {
		state.Set("path", r.URL.Path)
		return nil
	}})

	body := `[
		{"jsonrpc":"2.0","method":"count","id":1},
		{"jsonrpc":"2.0","method":"count","id":2},
		{"jsonrpc":"2.0","method":"count","id":3}
	]`
	for round := 0; round < 2; round++ {
		resp := decodeArray(t, serveRPC(s, body))
		for i, r := range resp {
			if r["result"] != float64(i+1) {
				t.Errorf("round %d, call %d: got %v, want %d", round, i, r["result"], i+1)
			}
		}
	}
}

func TestPreEncodedReplyPassesThrough(t *testing.T) {
	s := newTestServer(WithBatchProcessor(func(next BatchProcessor) BatchProcessor {
		return batchProcessorFunc(func(ctx context.Context, batch []json.RawMessage, state *State) any {
			return `{"cached":true}`
		})
	}))

	rec := serveRPC(s, `{"jsonrpc":"2.0","method":"ping","id":1}`)

	if want := `{"cached":true}`; rec.Body.String() != want {
		t.Errorf("got body %s, want %s", rec.Body.String(), want)
	}
}

func TestUnencodableResultIsTransactionError(t *testing.T) {
	s := newTestServer()
	s.Register(Func("chan", nil, func(context.Context, json.RawMessage, *State) (any, error) {
		return make(chan int), nil
	}))

	resp := decodeObject(t, serveRPC(s, `{"jsonrpc":"2.0","method":"chan","id":1}`))

	if got := errorCode(t, resp); got != CodeInternalError {
		t.Errorf("got code %d, want %d", got, CodeInternalError)
	}
}

func TestUnencodableResultDropsResponseHeaders(t *testing.T) {
	s := newTestServer()
	s.Register(Func("chan", nil, func(context.Context, json.RawMessage, *State) (any, error) {
		return make(chan int), nil
	}))
	s.Use(Hooks{Response: func(_ context.Context, h http.Header, _ *State) error {
		h.Set("X-Stage", "done")
		h.Add("Set-Cookie", "session=1")
		return nil
	}})

	rec := serveRPC(s, `{"jsonrpc":"2.0","method":"chan","id":1}`)

	if got := errorCode(t, decodeObject(t, rec)); got != CodeInternalError {
		t.Errorf("got code %d, want %d", got, CodeInternalError)
	}
	if rec.Header().Get("X-Stage") != "" || len(rec.Header().Values("Set-Cookie")) != 0 {
		t.Errorf("response hook headers applied to a failed transaction: %v", rec.Header())
	}
}

func TestTransportErrorsFramedLikeReplies(t *testing.T) {
	s := newTestServer()

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		want        string
	}{
		{"success", http.MethodPost, "application/json", `{"jsonrpc":"2.0","method":"ping","id":1}`, `{"id":1,"jsonrpc":"2.0","result":"pong"}`},
		{"method", http.MethodGet, "application/json", ``, `{"error":{"code":-32600,"message":"Request method can be POST only"}}`},
		{"content type", http.MethodPost, "text/plain", `{}`, `{"error":{"code":-32600,"message":"Invalid content type"}}`},
		{"empty batch", http.MethodPost, "application/json", `[]`, `{"error":{"code":-32600,"message":"No one request found"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/rpc", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			if got := rec.Body.String(); got != tt.want {
				t.Errorf("got body %q, want %q", got, tt.want)
			}
			if got := rec.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("got Content-Type %q, want application/json", got)
			}
		})
	}
}

func TestMaxBodyBytes(t *testing.T) {
	s := newTestServer(WithMaxBodyBytes(16))

	resp := decodeObject(t, serveRPC(s, `{"jsonrpc":"2.0","method":"ping","id":1}`))

	if got := errorCode(t, resp); got != CodeInvalidRequest {
		t.Errorf("got code %d, want %d", got, CodeInvalidRequest)
	}
}

func TestListenShutsDownOnCancel(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Listen(ctx, "127.0.0.1", 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestListenReportsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := newTestServer()
	if err := s.Listen(context.Background(), "127.0.0.1", port); err == nil {
		t.Error("expected an error for a port already in use")
	}
}

type batchProcessorFunc func(ctx context.Context, batch []json.RawMessage, state *State) any

func (f batchProcessorFunc) Process(ctx context.Context, batch []json.RawMessage, state *State) any {
	return f(ctx, batch, state)
}
