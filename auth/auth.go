// Package auth authenticates JSON-RPC transactions with bearer tokens.
//
// A Middleware verifies the Authorization header of every transaction with a
// TokenVerifier and stores the resulting Principal in the transaction state,
// where procedures read it with PrincipalFrom:
//
//	s.Use(auth.NewMiddleware(auth.NewHMACVerifier(secret, "issuer")))
//	s.Register(auth.Require(whoami))
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNoToken is returned when a request carries no usable bearer token.
	ErrNoToken = errors.New("auth: no bearer token")
	// ErrInvalidToken is returned by verifiers for tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Principal is the authenticated caller of a transaction.
type Principal struct {
	// ID is a stable identifier of the form "provider:subject".
	ID       string
	Provider string
	Subject  string
	Issuer   string
	// Email is set only when the token asserts it as verified.
	Email  string
	Expiry time.Time
}

// TokenVerifier turns a raw bearer token into a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// TokenVerifierFunc adapts a function to a TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*Principal, error)

func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (*Principal, error) {
	return f(ctx, token)
}

// Verifiers tries each verifier in order and returns the first success. If
// all fail, the error of the last one is returned.
type Verifiers []TokenVerifier

func (vs Verifiers) Verify(ctx context.Context, token string) (*Principal, error) {
	err := ErrInvalidToken
	for _, v := range vs {
		p, verr := v.Verify(ctx, token)
		if verr == nil {
			return p, nil
		}
		err = verr
	}
	return nil, err
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case sensitive and the header must consist of
// exactly the scheme and the token separated by one space.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func stableID(provider, subject string) string {
	return provider + ":" + subject
}
