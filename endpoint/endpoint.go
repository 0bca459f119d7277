// Package endpoint provides the HTTP plumbing shared by jayrpc handlers.
//
// Handlers build a Renderer describing the reply and let it write status,
// headers and body in one place. Processors run in front of a handler for
// HTTP-level concerns (body limits, headers) that sit outside the JSON-RPC
// middleware pipeline:
//
//	h := endpoint.Wrap(server, endpoint.LimitBody(1<<20))
//	http.Handle("/rpc", h)
package endpoint

import (
	"errors"
	"net/http"
)

// EndpointError is a client-visible error that maps directly to an HTTP status code.
//
// Wrap uses this to translate processor errors into HTTP responses.
type EndpointError struct {
	Status int
	// Message is a short, human-readable description suitable for an HTTP error body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError. An error that already is an
// EndpointError is returned unchanged.
func Error(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes a complete response: status, headers and body.
//
// If Render returns a non-nil error the response may be partially written;
// callers should only log it.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware-style logic that runs before the wrapped handler.
//
// Protocol:
//   - Processors MUST call next(...), unless they intend to
//     short-circuit the request.
//   - A processor that short-circuits writes the complete response itself
//     and returns nil.
//   - Otherwise processors MUST NOT call w.WriteHeader(...) or write to the
//     response body.
//
// If any processor returns a non-nil error, the chain stops and the error is
// written as a plain HTTP error.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// Wrap returns a handler that runs processors in order and then h.
func Wrap(h http.Handler, processors ...Processor) http.Handler {
	if len(processors) == 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
		run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
			if i == len(processors) {
				h.ServeHTTP(w2, r2)
				return nil
			}
			if processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		if err := run(0, w, r); err != nil {
			status := http.StatusInternalServerError
			message := err.Error()
			var ee *EndpointError
			if errors.As(err, &ee) && ee != nil {
				if ee.Status >= 100 {
					status = ee.Status
				}
				message = ee.Message
				if message == "" {
					message = http.StatusText(status)
				}
			}
			http.Error(w, message, status)
		}
	})
}

// LimitBody caps the request body at n bytes. Reads past the limit fail with
// *http.MaxBytesError.
func LimitBody(n int64) Processor {
	return ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		if n > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, n)
		}
		return next(w, r)
	})
}
