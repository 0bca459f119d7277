package middleware

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/mnehpets/jayrpc/endpoint"
	"github.com/mnehpets/jayrpc/jsonrpc"
)

// SecurityHeaders sets security headers suited to a JSON API on every reply.
//
// As a jsonrpc.Middleware it adds the headers in OnResponse. As an
// endpoint.Processor it answers CORS preflight requests, which never reach
// the JSON-RPC pipeline because it accepts POST only.
//
// Defaults:
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Referrer-Policy: no-referrer
//   - X-Frame-Options: DENY
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Cross-Origin-Resource-Policy: same-origin
//   - Cache-Control: no-store
type SecurityHeaders struct {
	jsonrpc.NopMiddleware

	// HSTS configures Strict-Transport-Security. Nil disables it.
	HSTS *HSTSConfig

	// Empty strings disable the corresponding header.
	ReferrerPolicy            string
	FrameOptions              string
	ContentSecurityPolicy     string
	CrossOriginResourcePolicy string
	CacheControl              string

	ContentTypeOptions bool

	// CORS configures cross-origin access. Nil disables CORS headers.
	CORS *CORSConfig
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	MaxAge            int
	IncludeSubDomains bool
	Preload           bool
}

// CORSConfig configures Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the API. "*" allows any
	// origin, except when AllowCredentials is set.
	AllowedOrigins []string
	// AllowedHeaders defaults to Content-Type and Authorization.
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is how long, in seconds, preflight results may be cached.
	MaxAge int
}

// SecurityHeadersOption configures SecurityHeaders.
type SecurityHeadersOption func(*SecurityHeaders)

// NewSecurityHeaders returns SecurityHeaders with API defaults.
func NewSecurityHeaders(opts ...SecurityHeadersOption) *SecurityHeaders {
	p := &SecurityHeaders{
		HSTS: &HSTSConfig{
			MaxAge:            31536000, // 1 year
			IncludeSubDomains: true,
		},
		ReferrerPolicy:            "no-referrer",
		FrameOptions:              "DENY",
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		CrossOriginResourcePolicy: "same-origin",
		CacheControl:              "no-store",
		ContentTypeOptions:        true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHSTS configures HSTS settings.
func WithHSTS(maxAge int, includeSubDomains, preload bool) SecurityHeadersOption {
	return func(p *SecurityHeaders) {
		p.HSTS = &HSTSConfig{MaxAge: maxAge, IncludeSubDomains: includeSubDomains, Preload: preload}
	}
}

// WithoutHSTS disables HSTS, e.g. for plain HTTP development servers.
func WithoutHSTS() SecurityHeadersOption {
	return func(p *SecurityHeaders) {
		p.HSTS = nil
	}
}

// WithCORS enables CORS headers.
func WithCORS(config *CORSConfig) SecurityHeadersOption {
	return func(p *SecurityHeaders) {
		p.CORS = config
	}
}

const originKey = "securityheaders.origin"

// OnRequest remembers the Origin of cross-origin calls for OnResponse.
func (p *SecurityHeaders) OnRequest(_ context.Context, r *http.Request, state *jsonrpc.State) error {
	if origin := r.Header.Get("Origin"); origin != "" && p.CORS != nil {
		state.Set(originKey, origin)
	}
	return nil
}

// OnResponse adds the configured headers.
func (p *SecurityHeaders) OnResponse(_ context.Context, header http.Header, state *jsonrpc.State) error {
	p.setHeaders(header)
	if origin, ok := jsonrpc.StateValue[string](state, originKey); ok {
		p.setCORS(header, origin, false)
	}
	return nil
}

// Process implements endpoint.Processor. It short-circuits CORS preflight
// requests with 204 and passes everything else on.
func (p *SecurityHeaders) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	origin := r.Header.Get("Origin")
	if p.CORS != nil && r.Method == http.MethodOptions && origin != "" &&
		r.Header.Get("Access-Control-Request-Method") != "" {
		p.setHeaders(w.Header())
		p.setCORS(w.Header(), origin, true)
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	return next(w, r)
}

func (p *SecurityHeaders) setHeaders(h http.Header) {
	if hsts := formatHSTS(p.HSTS); hsts != "" {
		h.Set("Strict-Transport-Security", hsts)
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}
	if p.CrossOriginResourcePolicy != "" {
		h.Set("Cross-Origin-Resource-Policy", p.CrossOriginResourcePolicy)
	}
	if p.CacheControl != "" {
		h.Set("Cache-Control", p.CacheControl)
	}
}

func (p *SecurityHeaders) setCORS(h http.Header, origin string, preflight bool) {
	config := p.CORS
	if config == nil || origin == "" {
		return
	}

	switch {
	case slices.Contains(config.AllowedOrigins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	case slices.Contains(config.AllowedOrigins, "*") && !config.AllowCredentials:
		// The wildcard is never combined with credentials.
		h.Set("Access-Control-Allow-Origin", "*")
	default:
		return
	}

	if config.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(config.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}
	if !preflight {
		return
	}

	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	allowed := config.AllowedHeaders
	if len(allowed) == 0 {
		allowed = []string{"Content-Type", "Authorization"}
	}
	h.Set("Access-Control-Allow-Headers", strings.Join(allowed, ", "))
	if config.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
	}
}

func formatHSTS(config *HSTSConfig) string {
	if config == nil || config.MaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(config.MaxAge)}
	if config.IncludeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if config.Preload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

var (
	_ endpoint.Processor = (*SecurityHeaders)(nil)
	_ jsonrpc.Middleware = (*SecurityHeaders)(nil)
)
