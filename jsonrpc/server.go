package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/mnehpets/jayrpc/endpoint"
)

// Server is the HTTP transport for a Registry and a middleware Chain. It
// implements http.Handler; each HTTP request is one transaction.
//
// Replies are always written with status 200 and an application/json body.
type Server struct {
	registry  *Registry
	chain     *Chain
	processor BatchProcessor
	opts      options
}

// NewServer creates a Server with an empty registry and no middleware.
func NewServer(opts ...Option) *Server {
	s := &Server{
		registry: NewRegistry(),
		chain:    &Chain{},
		opts:     newOptions(opts),
	}
	var p BatchProcessor = &Dispatcher{registry: s.registry, chain: s.chain, opts: s.opts}
	if s.opts.wrapProcessor != nil {
		p = s.opts.wrapProcessor(p)
	}
	s.processor = p
	return s
}

// Register adds procedure definitions. See Registry.Register.
func (s *Server) Register(defs ...Definition) {
	s.registry.Register(defs...)
}

// Use appends middleware. See Chain.Register.
func (s *Server) Use(mws ...Middleware) {
	s.chain.Register(mws...)
}

// Registry returns the server's procedure registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	renderer := s.handle(w, r)
	if err := renderer.Render(w, r); err != nil {
		level.Error(s.opts.logger).Log("msg", "writing response", "err", err)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) endpoint.Renderer {
	if r.Method != http.MethodPost {
		return errorRenderer(CodeInvalidRequest, "Request method can be POST only")
	}
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		return errorRenderer(CodeInvalidRequest, "Invalid content type")
	}

	ctx := r.Context()
	state := NewState()
	if err := s.chain.OnRequest(ctx, r, state); err != nil {
		return s.failure("request hook failed", err)
	}

	body, err := s.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return s.failure("reading body", Errorf(CodeInvalidRequest, "Request body exceeds %d bytes", tooLarge.Limit))
		}
		return s.failure("reading body", err)
	}

	batch, err := parseBatch(body)
	if err != nil {
		level.Warn(s.opts.logger).Log("msg", "parsing body", "err", err)
		return errorRenderer(CodeParseError, "JSON from request can not be parsed")
	}
	if len(batch) == 0 {
		return errorRenderer(CodeInvalidRequest, "No one request found")
	}

	reply := s.processor.Process(ctx, batch, state)

	header := make(http.Header)
	if err := s.chain.OnResponse(ctx, header, state); err != nil {
		return s.failure("response hook failed", err)
	}

	encoded, err := encodeReply(reply)
	if err != nil {
		return s.failure("encoding reply", err)
	}
	mergeHeader(w.Header(), header)
	return &endpoint.JSONRenderer{Value: encoded}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if s.opts.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, body, s.opts.maxBodyBytes)
	}
	defer body.Close()
	return io.ReadAll(body)
}

// failure logs a transaction-level error and renders it as a single error
// envelope without an id.
func (s *Server) failure(msg string, err error) endpoint.Renderer {
	code, message := ResolveError(err, s.opts.errorClasses)
	level.Error(s.opts.logger).Log("msg", msg, "code", code, "err", err)
	return errorRenderer(code, message)
}

// errorRenderer renders a transaction-level error envelope, framed exactly
// like a successful reply.
func errorRenderer(code int, message string) endpoint.Renderer {
	b, err := json.Marshal(ErrorResponse(nil, code, message))
	if err != nil {
		return &endpoint.JSONRenderer{Value: ErrorResponse(nil, CodeInternalError, "Internal error")}
	}
	return &endpoint.JSONRenderer{Value: json.RawMessage(b)}
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// parseBatch splits a body into its calls. A single object becomes a batch of
// one; an empty array or null yields an empty batch.
func parseBatch(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return nil, errors.New("jsonrpc: invalid JSON body")
	}
	switch {
	case body[0] == '[':
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	case bytes.Equal(body, []byte("null")):
		return nil, nil
	}
	return []json.RawMessage{json.RawMessage(body)}, nil
}

// encodeReply serializes reply unless it is already encoded.
func encodeReply(reply any) (any, error) {
	switch reply.(type) {
	case string, []byte, json.RawMessage:
		return reply, nil
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// Listen serves s on host:port until ctx is done, then shuts down
// gracefully.
func (s *Server) Listen(ctx context.Context, host string, port int) error {
	return s.ListenHandler(ctx, host, port, s)
}

// ListenHandler is Listen with a custom root handler, for mounting s next to
// other routes.
func (s *Server) ListenHandler(ctx context.Context, host string, port int, h http.Handler) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	level.Info(s.opts.logger).Log("msg", "server start listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	level.Info(s.opts.logger).Log("msg", "server stopped", "addr", ln.Addr().String())
	return nil
}
