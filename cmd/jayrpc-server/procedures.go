package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mnehpets/jayrpc/auth"
	"github.com/mnehpets/jayrpc/jsonrpc"
)

const counterKey = "counter"

var errNegative = errors.New("negative operand")

var addSchema = jsonrpc.MustSchema(`{
	"type": "object",
	"properties": {
		"a": {"type": "number"},
		"b": {"type": "number"}
	},
	"required": ["a", "b"],
	"additionalProperties": false
}`)

type addParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

var errorClasses = []jsonrpc.ErrorClass{
	jsonrpc.ClassIs(errNegative, jsonrpc.CodeValidationError),
}

func registerProcedures(s *jsonrpc.Server) {
	s.Register(
		jsonrpc.Func("ping", nil, func(context.Context, json.RawMessage, *jsonrpc.State) (any, error) {
			return "pong", nil
		}),
		jsonrpc.Typed("add", addSchema, func(_ context.Context, p addParams, _ *jsonrpc.State) (any, error) {
			if p.A < 0 || p.B < 0 {
				return nil, errNegative
			}
			return p.A + p.B, nil
		}),
		jsonrpc.Func("echo", nil, func(_ context.Context, params json.RawMessage, _ *jsonrpc.State) (any, error) {
			return params, nil
		}),
		// count increments a counter kept in the state cookie when one is
		// configured; otherwise it restarts at 1 on every transaction.
		jsonrpc.Func("count", nil, func(_ context.Context, _ json.RawMessage, state *jsonrpc.State) (any, error) {
			n := counterValue(state) + 1
			state.Set(counterKey, n)
			return n, nil
		}),
		auth.Require(jsonrpc.Func("whoami", nil, func(_ context.Context, _ json.RawMessage, state *jsonrpc.State) (any, error) {
			p, _ := auth.PrincipalFrom(state)
			return map[string]any{
				"id":      p.ID,
				"subject": p.Subject,
				"email":   p.Email,
			}, nil
		})),
	)
}

// counterValue reads the counter whether it was set in this transaction or
// restored from the cookie.
func counterValue(state *jsonrpc.State) uint64 {
	v, _ := state.Get(counterKey)
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	}
	return 0
}
