package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mnehpets/jayrpc/jsonrpc"
)

const loggingStartKey = "logging.start"

// Logging logs every call and every completed transaction.
//
// Calls are logged at debug level on success and info level on failure;
// transactions at info level with their duration.
type Logging struct {
	jsonrpc.NopMiddleware

	logger log.Logger
	now    func() time.Time
}

func NewLogging(logger log.Logger) *Logging {
	return &Logging{logger: logger, now: time.Now}
}

func (l *Logging) OnRequest(_ context.Context, r *http.Request, state *jsonrpc.State) error {
	state.Set(loggingStartKey, l.now())
	return nil
}

func (l *Logging) AfterCall(_ context.Context, def jsonrpc.Definition, resp *jsonrpc.Response) error {
	var id any
	var rpcErr *jsonrpc.Error
	resp.Modify(func(r *jsonrpc.Response) {
		id, rpcErr = r.ID, r.Error
	})
	if rpcErr != nil {
		level.Info(l.logger).Log("msg", "call failed", "method", def.Name(), "id", id, "code", rpcErr.Code, "err", rpcErr.Message)
		return nil
	}
	level.Debug(l.logger).Log("msg", "call", "method", def.Name(), "id", id)
	return nil
}

func (l *Logging) OnResponse(_ context.Context, _ http.Header, state *jsonrpc.State) error {
	keyvals := []any{"msg", "transaction"}
	if id, ok := RequestIDFrom(state); ok {
		keyvals = append(keyvals, "request_id", id)
	}
	if start, ok := jsonrpc.StateValue[time.Time](state, loggingStartKey); ok {
		keyvals = append(keyvals, "took", l.now().Sub(start))
	}
	level.Info(l.logger).Log(keyvals...)
	return nil
}
