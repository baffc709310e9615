// Package security holds the containment primitives of the gateway: resource
// path validation, the SSRF-guarded fetcher, host allowlists, URI redaction,
// and the signed session cookie that carries the caller's bearer token.
//
// # Session cookie
//
// The session provider (out of process) issues the cookie; the gateway only
// verifies it and extracts the opaque bearer token:
//
//	base64url(JSON-payload) + "." + base64url(HMAC-SHA256(payload))
//
// The HMAC gives integrity, not confidentiality. Cookies signed with either
// the primary or the secondary key are accepted so keys can be rotated
// without downtime. Iat/Exp are checked with a configurable clock skew.
package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	SessionCookieName = "sg_session"
	SessionCookieV1   = "v1"
)

// ErrNoSession means the request carries no session cookie.
var ErrNoSession = errors.New("session cookie not found")

type SessionPayloadV1 struct {
	V     string `json:"v"`   // "v1"
	Token string `json:"tok"` // opaque bearer token
	Iat   int64  `json:"iat"` // issued at (unix)
	Exp   int64  `json:"exp"` // expires at (unix)
	Nonce string `json:"n"`   // random 96-bit base64url
}

func decodeSessionV1(s string, keyPrimary, keySecondary []byte, now time.Time, skew time.Duration) (SessionPayloadV1, error) {
	var zero SessionPayloadV1

	if s == "" {
		return zero, errors.New("cookie value is empty")
	}
	if len(keyPrimary) == 0 {
		return zero, errors.New("primary key is required")
	}
	if skew < 0 {
		return zero, errors.New("skew must be non-negative")
	}

	jsonBytes, err := openEnvelope(s, keyPrimary, keySecondary)
	if err != nil {
		return zero, err
	}

	var p SessionPayloadV1
	if err := json.Unmarshal(jsonBytes, &p); err != nil {
		return zero, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if p.V != SessionCookieV1 {
		return zero, fmt.Errorf("invalid version: expected %s, got %s", SessionCookieV1, p.V)
	}

	iat := time.Unix(p.Iat, 0)
	exp := time.Unix(p.Exp, 0)

	if !now.Add(skew).After(iat) {
		return zero, fmt.Errorf("session not yet valid: issued at %v, current time %v (with %v skew)", iat, now, skew)
	}
	if !now.Add(-skew).Before(exp) {
		return zero, fmt.Errorf("session expired: expires at %v, current time %v (with %v skew)", exp, now, skew)
	}

	if p.Token == "" {
		return zero, errors.New("token is empty")
	}
	if p.Nonce == "" {
		return zero, errors.New("nonce is empty")
	}

	return p, nil
}

// ReadSessionToken verifies the session cookie on r and returns its token.
func ReadSessionToken(r *http.Request, keyPrimary, keySecondary []byte, now time.Time, skew time.Duration) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrNoSession
		}
		return "", fmt.Errorf("failed to read cookie: %w", err)
	}

	payload, err := decodeSessionV1(cookie.Value, keyPrimary, keySecondary, now, skew)
	if err != nil {
		return "", fmt.Errorf("failed to decode cookie: %w", err)
	}

	return payload.Token, nil
}
