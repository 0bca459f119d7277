package jsonrpc

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Middleware observes a transaction and each call in it.
//
// Protocol:
//   - OnRequest runs once per transaction, before the body is read. It may
//     populate state. An error aborts the transaction.
//   - BeforeCall runs once per call, after the procedure is instantiated and
//     its params validated. An error fails that call only.
//   - AfterCall runs once per call, after the procedure returned or failed.
//     It may modify resp. An error replaces that call's response.
//   - OnResponse runs once per transaction, after the batch is assembled and
//     before it is written. Headers set on header are added to the HTTP
//     response. An error aborts the transaction.
//
// All hooks registered for one stage run concurrently; the stage finishes
// when every hook has returned.
//
// Embed NopMiddleware to implement only some of the hooks.
type Middleware interface {
	OnRequest(ctx context.Context, r *http.Request, state *State) error
	BeforeCall(ctx context.Context, proc Procedure, req *Request) error
	AfterCall(ctx context.Context, def Definition, resp *Response) error
	OnResponse(ctx context.Context, header http.Header, state *State) error
}

// NopMiddleware implements every hook as a no-op.
type NopMiddleware struct{}

func (NopMiddleware) OnRequest(context.Context, *http.Request, *State) error { return nil }
func (NopMiddleware) BeforeCall(context.Context, Procedure, *Request) error { return nil }
func (NopMiddleware) AfterCall(context.Context, Definition, *Response) error { return nil }
func (NopMiddleware) OnResponse(context.Context, http.Header, *State) error { return nil }

// Hooks is a Middleware built from optional functions. Nil fields are no-ops.
type Hooks struct {
	Request  func(ctx context.Context, r *http.Request, state *State) error
	Before   func(ctx context.Context, proc Procedure, req *Request) error
	After    func(ctx context.Context, def Definition, resp *Response) error
	Response func(ctx context.Context, header http.Header, state *State) error
}

func (h Hooks) OnRequest(ctx context.Context, r *http.Request, state *State) error {
	if h.Request == nil {
		return nil
	}
	return h.Request(ctx, r, state)
}

func (h Hooks) BeforeCall(ctx context.Context, proc Procedure, req *Request) error {
	if h.Before == nil {
		return nil
	}
	return h.Before(ctx, proc, req)
}

func (h Hooks) AfterCall(ctx context.Context, def Definition, resp *Response) error {
	if h.After == nil {
		return nil
	}
	return h.After(ctx, def, resp)
}

func (h Hooks) OnResponse(ctx context.Context, header http.Header, state *State) error {
	if h.Response == nil {
		return nil
	}
	return h.Response(ctx, header, state)
}

// Chain is the ordered list of registered middleware.
type Chain struct {
	mu  sync.RWMutex
	mws []Middleware
}

// Register appends middleware. Registration order is kept for every stage.
func (c *Chain) Register(mws ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, mw := range mws {
		if mw == nil {
			panic("jsonrpc: nil middleware")
		}
		c.mws = append(c.mws, mw)
	}
}

// Len returns the number of registered middleware.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mws)
}

func (c *Chain) snapshot() []Middleware {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Middleware(nil), c.mws...)
}

// OnRequest runs the OnRequest stage.
func (c *Chain) OnRequest(ctx context.Context, r *http.Request, state *State) error {
	return fanOut(c.snapshot(), func(_ int, mw Middleware) error {
		return mw.OnRequest(ctx, r, state)
	})
}

// BeforeCall runs the BeforeCall stage.
func (c *Chain) BeforeCall(ctx context.Context, proc Procedure, req *Request) error {
	return fanOut(c.snapshot(), func(_ int, mw Middleware) error {
		return mw.BeforeCall(ctx, proc, req)
	})
}

// AfterCall runs the AfterCall stage.
func (c *Chain) AfterCall(ctx context.Context, def Definition, resp *Response) error {
	return fanOut(c.snapshot(), func(_ int, mw Middleware) error {
		return mw.AfterCall(ctx, def, resp)
	})
}

// OnResponse runs the OnResponse stage. Each hook gets its own header set;
// when the whole stage succeeds they are merged into dst in registration
// order. Set-Cookie values accumulate, other headers are replaced.
func (c *Chain) OnResponse(ctx context.Context, dst http.Header, state *State) error {
	mws := c.snapshot()
	headers := make([]http.Header, len(mws))
	for i := range headers {
		headers[i] = make(http.Header)
	}
	err := fanOut(mws, func(i int, mw Middleware) error {
		return mw.OnResponse(ctx, headers[i], state)
	})
	if err != nil {
		return err
	}
	for _, h := range headers {
		mergeHeader(dst, h)
	}
	return nil
}

// mergeHeader copies src onto dst. Set-Cookie values accumulate, other
// headers are replaced.
func mergeHeader(dst, src http.Header) {
	for k, vs := range src {
		if k == "Set-Cookie" {
			dst[k] = append(dst[k], vs...)
			continue
		}
		dst[k] = append([]string(nil), vs...)
	}
}

// fanOut starts fn for every middleware at once and waits for all of them.
// It returns the first error. Panics are converted to errors.
func fanOut(mws []Middleware, fn func(i int, mw Middleware) error) error {
	switch len(mws) {
	case 0:
		return nil
	case 1:
		return safeCall(func() error { return fn(0, mws[0]) })
	}
	var g errgroup.Group
	for i, mw := range mws {
		g.Go(func() error {
			return safeCall(func() error { return fn(i, mw) })
		})
	}
	return g.Wait()
}

// PanicError wraps a value recovered from a panicking hook or procedure.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return fn()
}
