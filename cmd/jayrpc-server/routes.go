package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mnehpets/jayrpc/config"
	"github.com/mnehpets/jayrpc/endpoint"
	"github.com/mnehpets/jayrpc/jsonrpc"
	"github.com/mnehpets/jayrpc/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newRouter(s *jsonrpc.Server, headers *middleware.SecurityHeaders, cfg config.Config, gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.Handle("/rpc", endpoint.Wrap(s, endpoint.LimitBody(cfg.MaxBodyBytes), headers))
	r.Handle(cfg.MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	renderer := &endpoint.JSONRenderer{Value: map[string]string{"status": "ok"}}
	_ = renderer.Render(w, r)
}
