package security

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestHmacSignSHA256(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		message  string
		expected string
	}{
		{
			name:     "RFC 4231 test case 1",
			key:      string(bytes.Repeat([]byte{0x0b}, 20)),
			message:  "Hi There",
			expected: "b0344c61d8db38535ca8afceaf0bf12b881dc200c9833da726e9376c2e32cff7",
		},
		{
			name:     "RFC 4231 test case 2",
			key:      "Jefe",
			message:  "what do ya want for nothing?",
			expected: "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hex.EncodeToString(hmacSignSHA256([]byte(tt.key), []byte(tt.message)))
			if got != tt.expected {
				t.Errorf("hmacSignSHA256() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []byte
		expected bool
	}{
		{"equal", []byte("hello"), []byte("hello"), true},
		{"differ by one bit", []byte{0x00}, []byte{0x01}, false},
		{"different lengths", []byte("hello"), []byte("hello world"), false},
		{"nil vs empty", nil, []byte{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := constantTimeEqual(tt.a, tt.b); got != tt.expected {
				t.Errorf("constantTimeEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
			if constantTimeEqual(tt.b, tt.a) != tt.expected {
				t.Error("constantTimeEqual is not commutative")
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	primary := []byte("primary-key-0123456789abcdef0123")
	secondary := []byte("secondary-key-0123456789abcdef01")
	msg := []byte(`{"tok":"abc"}`)

	t.Run("primary key", func(t *testing.T) {
		got, err := openEnvelope(signEnvelope(primary, msg), primary, secondary)
		if err != nil {
			t.Fatalf("openEnvelope() error = %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("openEnvelope() = %q, want %q", got, msg)
		}
	})

	t.Run("secondary key during rotation", func(t *testing.T) {
		if _, err := openEnvelope(signEnvelope(secondary, msg), primary, secondary); err != nil {
			t.Fatalf("openEnvelope() error = %v", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := openEnvelope(signEnvelope([]byte("other"), msg), primary, nil)
		if !errors.Is(err, errBadSignature) {
			t.Errorf("openEnvelope() error = %v, want errBadSignature", err)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		env := signEnvelope(primary, msg)
		payload, sig, _ := strings.Cut(env, ".")
		tampered := strings.ToUpper(payload[:1]) + payload[1:] + "." + sig
		if tampered == env {
			tampered = "A" + env[1:]
		}
		if _, err := openEnvelope(tampered, primary); err == nil {
			t.Error("expected tampered envelope to fail")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, s := range []string{"", "nodot", "a.b.c", "!!!.abc"} {
			if _, err := openEnvelope(s, primary); err == nil {
				t.Errorf("openEnvelope(%q) expected error", s)
			}
		}
	})
}

func BenchmarkHmacSignSHA256(b *testing.B) {
	key := []byte("benchmark-key-1234567890")
	message := []byte("The quick brown fox jumps over the lazy dog")

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = hmacSignSHA256(key, message)
	}
}
