// Command jayrpc-server serves a set of sample procedures over JSON-RPC.
//
// Settings are read from the environment and an optional .env file; see
// package config for the variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mnehpets/jayrpc/auth"
	"github.com/mnehpets/jayrpc/config"
	"github.com/mnehpets/jayrpc/jsonrpc"
	"github.com/mnehpets/jayrpc/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load")
	flag.Parse()

	logger := jsonrpc.NewLogger()

	cfg, err := config.Load(*envFile)
	if err != nil {
		level.Error(logger).Log("msg", "loading configuration", "err", err)
		os.Exit(1)
	}
	logger = cfg.Logger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		level.Error(logger).Log("msg", "server failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger log.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	headers := newSecurityHeaders(cfg)
	s, err := newServer(ctx, cfg, logger, reg, headers)
	if err != nil {
		return err
	}
	return s.ListenHandler(ctx, cfg.Host, cfg.Port, newRouter(s, headers, cfg, reg))
}

// newSecurityHeaders serves plain HTTP, so HSTS is left off.
func newSecurityHeaders(cfg config.Config) *middleware.SecurityHeaders {
	opts := []middleware.SecurityHeadersOption{middleware.WithoutHSTS()}
	if len(cfg.CORSOrigins) > 0 {
		opts = append(opts, middleware.WithCORS(&middleware.CORSConfig{
			AllowedOrigins: cfg.CORSOrigins,
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         3600,
		}))
	}
	return middleware.NewSecurityHeaders(opts...)
}

// newServer builds the JSON-RPC server with its middleware and procedures.
func newServer(ctx context.Context, cfg config.Config, logger log.Logger, reg prometheus.Registerer, headers *middleware.SecurityHeaders) (*jsonrpc.Server, error) {
	s := jsonrpc.NewServer(
		jsonrpc.WithLogger(logger),
		jsonrpc.WithProtocolVersion(cfg.ProtocolVersion),
		jsonrpc.WithErrorClasses(errorClasses...),
	)

	s.Use(
		middleware.NewRequestID(),
		middleware.NewLogging(logger),
		middleware.NewMetrics(reg),
		headers,
	)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if verifier != nil {
		s.Use(auth.NewMiddleware(verifier, auth.Optional(), auth.WithLogger(logger)))
	}

	if len(cfg.CookieKey) > 0 {
		sealer, err := middleware.NewSealer("k1", map[string][]byte{"k1": cfg.CookieKey})
		if err != nil {
			return nil, err
		}
		s.Use(middleware.NewStateCookie(sealer, []string{counterKey},
			middleware.WithCookieSecure(false),
			middleware.WithCookieLogger(logger),
		))
	}

	registerProcedures(s)
	level.Info(logger).Log("msg", "procedures registered", "methods", fmt.Sprint(s.Registry().Names()))
	return s, nil
}

// newVerifier combines the configured token verifiers. It returns nil when
// authentication is not configured.
func newVerifier(ctx context.Context, cfg config.Config) (auth.TokenVerifier, error) {
	var vs auth.Verifiers
	if len(cfg.JWTSecret) > 0 {
		vs = append(vs, auth.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer))
	}
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, "oidc", cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	switch len(vs) {
	case 0:
		return nil, nil
	case 1:
		return vs[0], nil
	}
	return vs, nil
}
