package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrSealedFormat  = errors.New("invalid sealed value format")
	ErrSealedInvalid = errors.New("invalid sealed value")
	ErrSealerConfig  = errors.New("invalid sealer configuration")
)

// maxSealedLen bounds the attacker-controlled input we decode.
const maxSealedLen = 8192

// KeySize is the key length expected by NewSealer.
const KeySize = chacha20poly1305.KeySize

// Sealer encrypts and authenticates CBOR encoded values with
// XChaCha20-Poly1305.
//
// Format: [keyID] "." base64url(nonce || ciphertext)
//
// keys holds every accepted key; keyID selects the key used for sealing, so
// old keys can stay in the map while they are rotated out.
type Sealer struct {
	keyID string
	aeads map[string]cipher.AEAD
}

// NewSealer creates a Sealer. Every key must be KeySize bytes.
func NewSealer(keyID string, keys map[string][]byte) (*Sealer, error) {
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrSealerConfig, keyID)
	}
	aeads := make(map[string]cipher.AEAD, len(keys))
	for id, k := range keys {
		if id == "" || strings.Contains(id, ".") {
			return nil, fmt.Errorf("%w: bad key id %q", ErrSealerConfig, id)
		}
		aead, err := chacha20poly1305.NewX(k)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrSealerConfig, id, err)
		}
		aeads[id] = aead
	}
	return &Sealer{keyID: keyID, aeads: aeads}, nil
}

// Seal encodes v and seals it. aad binds the value to its context.
func (s *Sealer) Seal(v any, aad []byte) (string, error) {
	plain, err := cbor.Marshal(v)
	if err != nil {
		return "", err
	}
	aead := s.aeads[s.keyID]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return s.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open verifies and decrypts value and decodes it into v.
func (s *Sealer) Open(value string, aad []byte, v any) error {
	if value == "" || len(value) > maxSealedLen {
		return ErrSealedFormat
	}
	keyID, enc, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || enc == "" {
		return ErrSealedFormat
	}
	aead, ok := s.aeads[keyID]
	if !ok {
		return ErrSealedInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return ErrSealedFormat
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrSealedFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return ErrSealedInvalid
	}
	return cbor.Unmarshal(plain, v)
}
