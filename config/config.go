// Package config loads jayrpc server settings from the environment and an
// optional .env file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvHost            = "JAYRPC_HOST"
	EnvPort            = "JAYRPC_PORT"
	EnvProtocolVersion = "JAYRPC_PROTOCOL_VERSION"
	EnvMaxBodyBytes    = "JAYRPC_MAX_BODY_BYTES"
	EnvLogLevel        = "JAYRPC_LOG_LEVEL"
	EnvJWTSecret       = "JAYRPC_JWT_SECRET"
	EnvJWTIssuer       = "JAYRPC_JWT_ISSUER"
	EnvOIDCIssuer      = "JAYRPC_OIDC_ISSUER"
	EnvOIDCClientID    = "JAYRPC_OIDC_CLIENT_ID"
	EnvCookieKey       = "JAYRPC_COOKIE_KEY"
	EnvMetricsPath     = "JAYRPC_METRICS_PATH"
	EnvCORSOrigins     = "JAYRPC_CORS_ORIGINS"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the server settings.
type Config struct {
	Host            string
	Port            int
	ProtocolVersion string
	MaxBodyBytes    int64
	LogLevel        string

	// JWTSecret enables HS256 bearer tokens when set.
	JWTSecret []byte
	JWTIssuer string

	// OIDCIssuer and OIDCClientID enable ID-token bearer tokens when both
	// are set.
	OIDCIssuer   string
	OIDCClientID string

	// CookieKey enables the sealed state cookie when set. It is given
	// hex encoded and must decode to 32 bytes.
	CookieKey []byte

	MetricsPath string

	// CORSOrigins lists origins allowed to call the API from a browser,
	// given comma separated.
	CORSOrigins []string
}

// Default returns the settings used for unset variables.
func Default() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8080,
		ProtocolVersion: "2.0",
		MaxBodyBytes:    1 << 20,
		LogLevel:        "info",
		MetricsPath:     "/metrics",
	}
}

// Load reads files into the environment, without overriding variables that
// are already set, and then builds the Config from the environment. With no
// files it reads ".env"; a missing file is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the Config from lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	var errs []error

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvHost); ok {
		c.Host = v
	}
	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%w: %s=%q is not a port", ErrInvalid, EnvPort, v))
		}
		c.Port = port
	}
	if v, ok := get(EnvProtocolVersion); ok {
		c.ProtocolVersion = v
	}
	if v, ok := get(EnvMaxBodyBytes); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%q is not a byte count", ErrInvalid, EnvMaxBodyBytes, v))
		}
		c.MaxBodyBytes = n
	}
	if v, ok := get(EnvLogLevel); ok {
		c.LogLevel = strings.ToLower(v)
		if _, err := levelOption(c.LogLevel); err != nil {
			errs = append(errs, err)
		}
	}
	if v, ok := get(EnvJWTSecret); ok {
		c.JWTSecret = []byte(v)
	}
	if v, ok := get(EnvJWTIssuer); ok {
		c.JWTIssuer = v
	}
	if v, ok := get(EnvOIDCIssuer); ok {
		c.OIDCIssuer = v
	}
	if v, ok := get(EnvOIDCClientID); ok {
		c.OIDCClientID = v
	}
	if (c.OIDCIssuer == "") != (c.OIDCClientID == "") {
		errs = append(errs, fmt.Errorf("%w: %s and %s must be set together", ErrInvalid, EnvOIDCIssuer, EnvOIDCClientID))
	}
	if v, ok := get(EnvCookieKey); ok {
		key, err := hex.DecodeString(v)
		if err != nil || len(key) != 32 {
			errs = append(errs, fmt.Errorf("%w: %s must be 32 hex encoded bytes", ErrInvalid, EnvCookieKey))
		}
		c.CookieKey = key
	}
	if v, ok := get(EnvMetricsPath); ok {
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		c.MetricsPath = v
	}
	if v, ok := get(EnvCORSOrigins); ok {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return c, nil
}

// Logger wraps base with a filter for the configured level.
func (c Config) Logger(base log.Logger) log.Logger {
	opt, err := levelOption(c.LogLevel)
	if err != nil {
		opt = level.AllowInfo()
	}
	return level.NewFilter(base, opt)
}

func levelOption(name string) (level.Option, error) {
	switch name {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	case "none":
		return level.AllowNone(), nil
	}
	return nil, fmt.Errorf("%w: unknown log level %q", ErrInvalid, name)
}
