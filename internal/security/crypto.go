package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var errBadSignature = errors.New("invalid signature")

// hmacSignSHA256 computes HMAC-SHA256 of msg under key.
func hmacSignSHA256(key []byte, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// constantTimeEqual is false for slices of different length.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// openEnvelope verifies a base64url(msg) + "." + base64url(HMAC(msg))
// envelope against each non-empty key in order and returns the decoded
// message on the first match.
func openEnvelope(s string, keys ...[]byte) ([]byte, error) {
	payload, sig, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(sig, ".") {
		return nil, errors.New("invalid format: expected payload.signature")
	}

	msg, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.New("failed to decode payload: " + err.Error())
	}
	signature, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, errors.New("failed to decode signature: " + err.Error())
	}

	for _, key := range keys {
		if len(key) == 0 {
			continue
		}
		if constantTimeEqual(signature, hmacSignSHA256(key, msg)) {
			return msg, nil
		}
	}
	return nil, errBadSignature
}
