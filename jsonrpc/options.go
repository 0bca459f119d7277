package jsonrpc

import (
	"os"
	"time"

	"github.com/go-kit/log"
)

// DefaultShutdownTimeout bounds how long Listen waits for in-flight
// transactions once its context is done.
const DefaultShutdownTimeout = 5 * time.Second

type options struct {
	version         string
	errorClasses    []ErrorClass
	validator       Validator
	logger          log.Logger
	maxBodyBytes    int64
	shutdownTimeout time.Duration
	wrapProcessor   func(next BatchProcessor) BatchProcessor
}

// Option configures a Server or Dispatcher.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		version:         Version,
		validator:       NewSchemaValidator(),
		logger:          NewLogger(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewLogger returns the default logger: logfmt on stderr with a UTC
// timestamp.
func NewLogger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

// WithProtocolVersion sets the jsonrpc version calls must declare.
// Default: "2.0".
func WithProtocolVersion(version string) Option {
	return func(o *options) {
		if version != "" {
			o.version = version
		}
	}
}

// WithErrorClasses sets the ordered table consulted for errors that carry
// no explicit code.
func WithErrorClasses(classes ...ErrorClass) Option {
	return func(o *options) {
		o.errorClasses = append([]ErrorClass(nil), classes...)
	}
}

// WithValidator replaces the params validator. Default: SchemaValidator.
func WithValidator(v Validator) Option {
	return func(o *options) {
		if v != nil {
			o.validator = v
		}
	}
}

// WithLogger sets the logger. Use log.NewNopLogger() to silence output.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxBodyBytes limits the request body size. Zero means no limit.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		o.maxBodyBytes = n
	}
}

// WithShutdownTimeout sets how long Listen waits for in-flight transactions.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}

// WithBatchProcessor decorates the processor the Server hands each batch to.
func WithBatchProcessor(wrap func(next BatchProcessor) BatchProcessor) Option {
	return func(o *options) {
		o.wrapProcessor = wrap
	}
}
