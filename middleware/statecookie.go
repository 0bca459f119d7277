package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mnehpets/jayrpc/jsonrpc"
)

// DefaultStateCookieName is the default name of the state cookie.
const DefaultStateCookieName = "jrs"

// DefaultStateCookieMaxAge is the default state cookie lifetime.
const DefaultStateCookieMaxAge = 24 * time.Hour

// StateCookie carries selected State keys across transactions in a sealed
// cookie. OnRequest restores them; OnResponse writes them back, or clears
// the cookie once none of them is set.
//
// Values are stored as CBOR, so after a round trip they come back as
// generic types: integers as uint64 or int64, maps as map[any]any.
type StateCookie struct {
	jsonrpc.NopMiddleware

	sealer   *Sealer
	keys     []string
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	maxAge   time.Duration
	logger   log.Logger
}

// StateCookieOption configures a StateCookie.
type StateCookieOption func(*StateCookie)

func WithCookieName(name string) StateCookieOption {
	return func(c *StateCookie) { c.name = name }
}

func WithCookiePath(path string) StateCookieOption {
	return func(c *StateCookie) { c.path = path }
}

func WithCookieDomain(domain string) StateCookieOption {
	return func(c *StateCookie) { c.domain = domain }
}

func WithCookieSecure(secure bool) StateCookieOption {
	return func(c *StateCookie) { c.secure = secure }
}

func WithCookieSameSite(sameSite http.SameSite) StateCookieOption {
	return func(c *StateCookie) { c.sameSite = sameSite }
}

func WithCookieMaxAge(d time.Duration) StateCookieOption {
	return func(c *StateCookie) { c.maxAge = d }
}

func WithCookieLogger(logger log.Logger) StateCookieOption {
	return func(c *StateCookie) { c.logger = logger }
}

// NewStateCookie persists the given state keys with sealer.
//
// Defaults: name "jrs", path "/", Secure, HttpOnly, SameSite=Lax, 24h.
func NewStateCookie(sealer *Sealer, keys []string, opts ...StateCookieOption) *StateCookie {
	c := &StateCookie{
		sealer:   sealer,
		keys:     append([]string(nil), keys...),
		name:     DefaultStateCookieName,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		maxAge:   DefaultStateCookieMaxAge,
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// aad binds the sealed value to the cookie attributes.
func (c *StateCookie) aad() []byte {
	secure := "f"
	if c.secure {
		secure = "t"
	}
	return []byte(c.name + ":" + c.domain + ":" + c.path + ":" + secure)
}

func (c *StateCookie) loadedKey() string {
	return "statecookie." + c.name + ".loaded"
}

func (c *StateCookie) OnRequest(_ context.Context, r *http.Request, state *jsonrpc.State) error {
	ck, err := r.Cookie(c.name)
	if err != nil {
		return nil
	}
	var values map[string]any
	if err := c.sealer.Open(ck.Value, c.aad(), &values); err != nil {
		// A stale or tampered cookie is ignored and replaced on the way out.
		level.Warn(c.logger).Log("msg", "discarding state cookie", "err", err)
		state.Set(c.loadedKey(), true)
		return nil
	}
	for _, k := range c.keys {
		if v, ok := values[k]; ok {
			state.Set(k, v)
		}
	}
	state.Set(c.loadedKey(), true)
	return nil
}

func (c *StateCookie) OnResponse(_ context.Context, header http.Header, state *jsonrpc.State) error {
	values := make(map[string]any)
	for _, k := range c.keys {
		if v, ok := state.Get(k); ok {
			values[k] = v
		}
	}

	if len(values) == 0 {
		if _, loaded := state.Get(c.loadedKey()); loaded {
			header.Add("Set-Cookie", c.clear().String())
		}
		return nil
	}

	value, err := c.sealer.Seal(values, c.aad())
	if err != nil {
		return err
	}
	ck := &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   int(c.maxAge.Seconds()),
		Expires:  time.Now().Add(c.maxAge),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}
	header.Add("Set-Cookie", ck.String())
	return nil
}

func (c *StateCookie) clear() *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}
}
