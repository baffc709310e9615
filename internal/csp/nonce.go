package csp

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// NonceSize is the number of random bytes behind every nonce (128 bits).
const NonceSize = 16

// Nonce is a single-use token that authorizes inline content for exactly one response.
type Nonce string

// Source returns the nonce as a CSP source token, e.g. 'nonce-abc'.
func (n Nonce) Source() string {
	return "'nonce-" + string(n) + "'"
}

func (n Nonce) String() string {
	return string(n)
}

// NonceGenerator produces fresh nonces from a cryptographically secure source.
type NonceGenerator struct {
	random io.Reader
}

// NewNonceGenerator returns a generator backed by crypto/rand.
func NewNonceGenerator() *NonceGenerator {
	return &NonceGenerator{random: rand.Reader}
}

// NewNonceGeneratorFrom returns a generator reading from r. Tests use it to
// inject deterministic or failing sources.
func NewNonceGeneratorFrom(r io.Reader) *NonceGenerator {
	return &NonceGenerator{random: r}
}

// Generate returns a new base64url (unpadded) nonce. An error means the entropy
// source failed; callers must abort the response rather than fall back to a
// weaker policy.
func (g *NonceGenerator) Generate() (Nonce, error) {
	b := make([]byte, NonceSize)
	if _, err := io.ReadFull(g.random, b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return Nonce(base64.RawURLEncoding.EncodeToString(b)), nil
}
