package csp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceUniqueness(t *testing.T) {
	g := NewNonceGenerator()
	seen := make(map[Nonce]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		n, err := g.Generate()
		require.NoError(t, err)
		if _, dup := seen[n]; dup {
			t.Fatalf("duplicate nonce %q after %d generations", n, i)
		}
		seen[n] = struct{}{}
	}
}

func TestNonceEncoding(t *testing.T) {
	n, err := NewNonceGenerator().Generate()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(string(n))
	require.NoError(t, err)
	assert.Len(t, raw, NonceSize)
	assert.False(t, strings.ContainsAny(string(n), "+/="), "nonce must be unpadded base64url")
	assert.Equal(t, "'nonce-"+string(n)+"'", n.Source())
}

func TestNonceDeterministicSource(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0xfb}, NonceSize))
	n, err := NewNonceGeneratorFrom(src).Generate()
	require.NoError(t, err)
	assert.Equal(t, Nonce("-_v7-_v7-_v7-_v7-_v7-w"), n)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestNonceSourceFailure(t *testing.T) {
	n, err := NewNonceGeneratorFrom(failingReader{}).Generate()
	assert.Error(t, err)
	assert.Empty(t, n)

	short := bytes.NewReader(make([]byte, NonceSize-1))
	_, err = NewNonceGeneratorFrom(short).Generate()
	assert.Error(t, err, "a short read must not produce a weak nonce")
}
