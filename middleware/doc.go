// Package middleware provides ready-made jsonrpc.Middleware for jayrpc
// servers: request ids, call logging, Prometheus metrics, API security
// headers and a sealed state cookie.
//
//	s := jsonrpc.NewServer()
//	s.Use(
//	    middleware.NewRequestID(),
//	    middleware.NewLogging(logger),
//	    middleware.NewMetrics(prometheus.DefaultRegisterer),
//	    middleware.NewSecurityHeaders(),
//	)
package middleware
