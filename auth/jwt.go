package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// DefaultLeeway is the clock skew tolerated when checking token times.
const DefaultLeeway = time.Minute

// HMACClaims is the claim set of tokens issued and verified with a shared
// secret.
type HMACClaims struct {
	jwt.Claims
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// HMACVerifier verifies HS256 signed JWTs against a shared secret.
type HMACVerifier struct {
	key    []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewHMACVerifier creates a verifier for tokens signed with key. When issuer
// is non-empty the iss claim must match it.
func NewHMACVerifier(key []byte, issuer string) *HMACVerifier {
	return &HMACVerifier{
		key:    key,
		issuer: issuer,
		leeway: DefaultLeeway,
		now:    time.Now,
	}
}

func (v *HMACVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims HMACClaims
	if err := tok.Claims(v.key, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	expected := jwt.Expected{Issuer: v.issuer, Time: v.now()}
	if err := claims.ValidateWithLeeway(expected, v.leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	p := &Principal{
		ID:       stableID("jwt", claims.Subject),
		Provider: "jwt",
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
	}
	if claims.EmailVerified {
		p.Email = claims.Email
	}
	if claims.Expiry != nil {
		p.Expiry = claims.Expiry.Time()
	}
	return p, nil
}

// SignHMAC issues an HS256 token carrying claims.
func SignHMAC(key []byte, claims HMACClaims) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", err
	}
	return jwt.Signed(signer).Claims(claims).Serialize()
}
