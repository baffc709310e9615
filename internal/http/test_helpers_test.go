package httpx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mlehotskylf-org/securegate/internal/config"
	"github.com/mlehotskylf-org/securegate/internal/csp"
	"github.com/mlehotskylf-org/securegate/internal/proxy"
	"github.com/mlehotskylf-org/securegate/internal/security"
)

// pngBody starts with the PNG signature so sniffing agrees with the header.
var pngBody = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

const testToken = "upstream-token"

// loopbackResolver sends every allowlisted name to the local test server.
type loopbackResolver struct{}

func (loopbackResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.IPv4(127, 0, 0, 1)}}, nil
}

// newUpstream starts an image upstream and returns its base URL under the
// allowlisted name images.example.com.
func newUpstream(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusNoContent)
		case "/uploads/blog/photo-123.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBody)
		case "/uploads/notes.txt":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<script>alert(1)</script>"))
		case "/uploads/moved.png":
			http.Redirect(w, r, "/uploads/blog/photo-123.png", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	return "http://images.example.com:" + u.Port()
}

// newTestConfig creates a valid development configuration pointing at upstream.
func newTestConfig(upstream string) config.Config {
	return config.Config{
		Profile:           csp.ProfileDevelopment,
		Port:              "8080",
		UpstreamBaseURL:   upstream,
		AllowedDomains:    []string{"images.example.com"},
		AllowLocalhost:    true,
		ProxyTimeout:      2 * time.Second,
		ProxyMaxRedirects: 0,
		MaxResponseBytes:  1 << 20,
		CSPReportURI:      DefaultReportRoute,
		SessionSigningKey: []byte("test-signing-key-32-bytes-long!!"),
		SessionSkew:       time.Minute,
		LogLevel:          "info",
	}
}

// newTestRouter wires the real dependencies against a loopback upstream.
func newTestRouter(t *testing.T, cfg config.Config) (http.Handler, Dependencies) {
	t.Helper()
	deps, err := NewDependencies(cfg, zap.NewNop(), loopbackResolver{})
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	return NewRouter(cfg, deps), deps
}

// productionConfig is a production configuration that never contacts its upstream.
func productionConfig() config.Config {
	cfg := newTestConfig("https://images.example.com")
	cfg.Profile = csp.ProfileProduction
	cfg.AllowLocalhost = false
	cfg.EnableHSTS = true
	return cfg
}

type panickingImages struct{}

func (panickingImages) Handle(context.Context, string, string) (*proxy.Image, error) {
	panic("image service exploded")
}

// sessionCookie builds a session cookie the way the session provider
// issues it: base64url(payload) "." base64url(HMAC-SHA256(payload)).
func sessionCookie(t *testing.T, token string, key []byte, ttl time.Duration) *http.Cookie {
	t.Helper()
	now := time.Now()
	payload, err := json.Marshal(security.SessionPayloadV1{
		V:     security.SessionCookieV1,
		Token: token,
		Iat:   now.Unix(),
		Exp:   now.Add(ttl).Unix(),
		Nonce: "test-nonce",
	})
	if err != nil {
		t.Fatalf("failed to marshal session: %v", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	value := base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return &http.Cookie{Name: security.SessionCookieName, Value: value}
}
