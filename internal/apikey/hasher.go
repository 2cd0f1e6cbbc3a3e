package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/sachigoyal/echo-auth/internal/domain"
)

// KeyPrefix marks plaintext API keys so the request authenticator can
// classify a bearer credential without guessing from its shape.
const KeyPrefix = "ak_"

const keyEntropyBytes = 32

// Hasher computes the keyed, deterministic hash under which API keys are
// stored and looked up. Determinism is what makes the lookup an equality
// index instead of a linear scan.
type Hasher struct {
	key [32]byte
}

// NewHasher derives the MAC key from the server-side secret.
func NewHasher(secret []byte) (*Hasher, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("api key secret is required")
	}
	return &Hasher{key: sha256.Sum256(secret)}, nil
}

// Hash returns the hex-encoded keyed BLAKE2b-256 digest of the plaintext.
// An attacker holding the database cannot forge hashes without the secret.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return "", domain.ErrInvalidInput
	}
	mac, err := blake2b.New256(h.key[:])
	if err != nil {
		return "", fmt.Errorf("init keyed hash: %w", err)
	}
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// GenerateKey produces a fresh plaintext API key. The value is returned
// exactly once at creation time and never stored.
func GenerateKey() (string, error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// LooksLikeKey reports whether a bearer credential carries the API key
// envelope.
func LooksLikeKey(credential string) bool {
	return strings.HasPrefix(credential, KeyPrefix)
}
