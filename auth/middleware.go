package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mnehpets/jayrpc/jsonrpc"
)

// PrincipalKey is the state key the Middleware stores the Principal under.
const PrincipalKey = "auth.principal"

// Middleware authenticates each transaction in its OnRequest hook.
type Middleware struct {
	jsonrpc.NopMiddleware

	verifier TokenVerifier
	optional bool
	logger   log.Logger
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// Optional lets requests without a bearer token through anonymously. A token
// that is present but invalid is still rejected.
func Optional() MiddlewareOption {
	return func(m *Middleware) {
		m.optional = true
	}
}

// WithLogger sets the logger for rejected tokens.
func WithLogger(logger log.Logger) MiddlewareOption {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// NewMiddleware returns a Middleware verifying tokens with verifier.
func NewMiddleware(verifier TokenVerifier, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		verifier: verifier,
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) OnRequest(ctx context.Context, r *http.Request, state *jsonrpc.State) error {
	token, ok := BearerToken(r)
	if !ok {
		if m.optional {
			return nil
		}
		return unauthorized(ErrNoToken)
	}
	p, err := m.verifier.Verify(ctx, token)
	if err != nil {
		level.Warn(m.logger).Log("msg", "token rejected", "err", err)
		return unauthorized(err)
	}
	state.Set(PrincipalKey, p)
	return nil
}

func unauthorized(err error) error {
	if errors.Is(err, ErrNoToken) {
		return jsonrpc.NewError(jsonrpc.CodeUnauthorized, "Unauthorized")
	}
	return jsonrpc.NewError(jsonrpc.CodeUnauthorized, "Invalid token")
}

// PrincipalFrom returns the authenticated caller of the transaction.
func PrincipalFrom(state *jsonrpc.State) (*Principal, bool) {
	return jsonrpc.StateValue[*Principal](state, PrincipalKey)
}

type requireDefinition struct {
	jsonrpc.Definition
}

// Require wraps def so that calls fail with CodeUnauthorized unless the
// transaction has an authenticated Principal.
func Require(def jsonrpc.Definition) jsonrpc.Definition {
	return requireDefinition{def}
}

func (d requireDefinition) New(params json.RawMessage, state *jsonrpc.State) (jsonrpc.Procedure, error) {
	if _, ok := PrincipalFrom(state); !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeUnauthorized, "Unauthorized")
	}
	return d.Definition.New(params, state)
}
