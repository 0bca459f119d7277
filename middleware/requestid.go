package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/mnehpets/jayrpc/jsonrpc"
)

// RequestIDHeader is the header carrying the transaction id.
const RequestIDHeader = "X-Request-Id"

// RequestIDKey is the state key holding the transaction id.
const RequestIDKey = "requestid"

// RequestID assigns every transaction an id, stores it in state and echoes
// it in the X-Request-Id response header. A well-formed UUID sent by the
// client is reused; anything else is replaced by a fresh one.
type RequestID struct {
	jsonrpc.NopMiddleware
}

func NewRequestID() *RequestID {
	return &RequestID{}
}

func (*RequestID) OnRequest(_ context.Context, r *http.Request, state *jsonrpc.State) error {
	id := r.Header.Get(RequestIDHeader)
	if u, err := uuid.Parse(id); err == nil {
		id = u.String()
	} else {
		id = uuid.NewString()
	}
	state.Set(RequestIDKey, id)
	return nil
}

func (*RequestID) OnResponse(_ context.Context, header http.Header, state *jsonrpc.State) error {
	if id, ok := RequestIDFrom(state); ok {
		header.Set(RequestIDHeader, id)
	}
	return nil
}

// RequestIDFrom returns the id assigned to the transaction.
func RequestIDFrom(state *jsonrpc.State) (string, bool) {
	return jsonrpc.StateValue[string](state, RequestIDKey)
}
