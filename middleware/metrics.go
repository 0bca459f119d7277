package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/mnehpets/jayrpc/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsStartKey = "metrics.start"

// Metrics records Prometheus metrics for calls and transactions:
//
//   - jayrpc_calls_total{method, code}: calls by outcome; code is "0" on success
//   - jayrpc_transactions_total: completed transactions
//   - jayrpc_transaction_duration_seconds: transaction latency
type Metrics struct {
	jsonrpc.NopMiddleware

	calls        *prometheus.CounterVec
	transactions prometheus.Counter
	duration     prometheus.Histogram
	now          func() time.Time
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jayrpc",
			Name:      "calls_total",
			Help:      "Number of JSON-RPC calls processed, by method and error code.",
		}, []string{"method", "code"}),
		transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jayrpc",
			Name:      "transactions_total",
			Help:      "Number of completed JSON-RPC transactions.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jayrpc",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of JSON-RPC transactions in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		now: time.Now,
	}
	reg.MustRegister(m.calls, m.transactions, m.duration)
	return m
}

func (m *Metrics) OnRequest(_ context.Context, _ *http.Request, state *jsonrpc.State) error {
	state.Set(metricsStartKey, m.now())
	return nil
}

func (m *Metrics) AfterCall(_ context.Context, def jsonrpc.Definition, resp *jsonrpc.Response) error {
	code := 0
	resp.Modify(func(r *jsonrpc.Response) {
		if r.Error != nil {
			code = r.Error.Code
		}
	})
	m.calls.WithLabelValues(def.Name(), strconv.Itoa(code)).Inc()
	return nil
}

func (m *Metrics) OnResponse(_ context.Context, _ http.Header, state *jsonrpc.State) error {
	m.transactions.Inc()
	if start, ok := jsonrpc.StateValue[time.Time](state, metricsStartKey); ok {
		m.duration.Observe(m.now().Sub(start).Seconds())
	}
	return nil
}
