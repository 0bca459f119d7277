package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-kit/log/level"
)

// BatchProcessor turns a batch of raw calls into a reply value. The reply is
// either a single *Response, a []*Response, or pre-encoded JSON (string,
// []byte or json.RawMessage) that is written verbatim.
type BatchProcessor interface {
	Process(ctx context.Context, batch []json.RawMessage, state *State) any
}

// Dispatcher is the default BatchProcessor. It resolves every call of a
// batch against a Registry and runs it inside the middleware Chain.
//
// Calls are processed one after another in batch order. A failing call
// never affects the other calls of the batch.
type Dispatcher struct {
	registry *Registry
	chain    *Chain
	opts     options
}

// NewDispatcher creates a Dispatcher. A nil chain means no middleware. It
// panics if registry is nil.
func NewDispatcher(registry *Registry, chain *Chain, opts ...Option) *Dispatcher {
	if registry == nil {
		panic("jsonrpc: nil registry")
	}
	if chain == nil {
		chain = &Chain{}
	}
	return &Dispatcher{
		registry: registry,
		chain:    chain,
		opts:     newOptions(opts),
	}
}

// Process implements BatchProcessor. A batch with exactly one response
// yields that *Response; otherwise a []*Response in batch order.
func (d *Dispatcher) Process(ctx context.Context, batch []json.RawMessage, state *State) any {
	responses := make([]*Response, 0, len(batch))
	for i, raw := range batch {
		responses = append(responses, d.processCall(ctx, i, raw, state))
	}
	if len(responses) == 1 {
		return responses[0]
	}
	return responses
}

func (d *Dispatcher) processCall(ctx context.Context, index int, raw json.RawMessage, state *State) *Response {
	req, err := parseRequest(raw)

	// Calls without an id are correlated by their position in the batch.
	var id any = index
	if req.ID != nil {
		id = req.ID
	}

	if err != nil {
		level.Warn(d.opts.logger).Log("msg", "malformed request", "id", id, "err", err)
		return ErrorResponse(id, CodeInvalidRequest, "Invalid request")
	}
	if req.JSONRPC != d.opts.version {
		return ErrorResponse(id, CodeInvalidRequest, "Unknown jsonrpc version")
	}

	def, ok := d.registry.Lookup(req.Method)
	if !ok {
		return ErrorResponse(id, CodeMethodNotFound, "Method not found")
	}

	if schema := def.ParamsSchema(); schema != nil {
		msgs, err := d.opts.validator.Validate(schema, req.Params)
		if err != nil {
			return d.failure(id, req.Method, err)
		}
		if len(msgs) > 0 {
			// Validation failures are reported without an id.
			return ErrorResponse(nil, CodeInvalidParams, msgs...)
		}
	}

	resp := &Response{ID: id, JSONRPC: d.opts.version}
	if err := d.call(ctx, def, req, state, resp); err != nil {
		resp = d.failure(id, req.Method, err)
	}
	if err := d.chain.AfterCall(ctx, def, resp); err != nil {
		resp = d.failure(id, req.Method, err)
	}
	return resp
}

var errNilProcedure = errors.New("jsonrpc: definition returned a nil procedure")

// call instantiates the procedure, runs the BeforeCall stage and invokes it.
func (d *Dispatcher) call(ctx context.Context, def Definition, req *Request, state *State, resp *Response) error {
	return safeCall(func() error {
		proc, err := def.New(req.Params, state)
		if err != nil {
			return err
		}
		if proc == nil {
			return errNilProcedure
		}
		if err := d.chain.BeforeCall(ctx, proc, req); err != nil {
			return err
		}
		result, err := proc.Call(ctx)
		if err != nil {
			return err
		}
		resp.Result = result
		return nil
	})
}

// failure logs err and converts it to an error envelope for id.
func (d *Dispatcher) failure(id any, method string, err error) *Response {
	code, msg := ResolveError(err, d.opts.errorClasses)
	level.Error(d.opts.logger).Log("msg", "call failed", "method", method, "id", id, "code", code, "err", err)
	return ErrorResponse(id, code, msg)
}
