package security

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

// signEnvelope is the issuing side of openEnvelope.
func signEnvelope(key, msg []byte) string {
	return base64.RawURLEncoding.EncodeToString(msg) + "." +
		base64.RawURLEncoding.EncodeToString(hmacSignSHA256(key, msg))
}

func encodeSessionV1(t *testing.T, p SessionPayloadV1, key []byte) string {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return signEnvelope(key, b)
}

// newSessionCookie builds the cookie the session provider would issue.
func newSessionCookie(t *testing.T, token string, key []byte, now time.Time, ttl time.Duration) *http.Cookie {
	t.Helper()
	value := encodeSessionV1(t, SessionPayloadV1{
		V:     SessionCookieV1,
		Token: token,
		Iat:   now.Unix(),
		Exp:   now.Add(ttl).Unix(),
		Nonce: "test-nonce",
	}, key)
	return &http.Cookie{Name: SessionCookieName, Value: value}
}
