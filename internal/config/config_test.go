package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mlehotskylf-org/securegate/internal/csp"
)

var testKey = strings.Repeat("ab", 32) // 32 bytes hex

func setProductionEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_PROFILE", "production")
	t.Setenv("UPSTREAM_API_BASE_URL", "https://api.example.com/files")
	t.Setenv("ALLOWED_DOMAINS", "api.example.com, *.cdn.example.com")
	t.Setenv("SESSION_SIGNING_KEY", testKey)
}

func TestFromEnvDefaults(t *testing.T) {
	setProductionEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Profile != csp.ProfileProduction {
		t.Errorf("Profile = %q, want production", cfg.Profile)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.ProxyTimeout != 5*time.Second {
		t.Errorf("ProxyTimeout = %v, want 5s", cfg.ProxyTimeout)
	}
	if cfg.ProxyMaxRedirects != 0 {
		t.Errorf("ProxyMaxRedirects = %d, want 0", cfg.ProxyMaxRedirects)
	}
	if cfg.MaxResponseBytes != 10<<20 {
		t.Errorf("MaxResponseBytes = %d, want %d", cfg.MaxResponseBytes, 10<<20)
	}
	if cfg.CSPReportURI != "/csp-report" {
		t.Errorf("CSPReportURI = %q, want /csp-report", cfg.CSPReportURI)
	}
	if !cfg.EnableHSTS {
		t.Error("EnableHSTS should default to true in production")
	}
	if cfg.SessionSkew != time.Minute {
		t.Errorf("SessionSkew = %v, want 1m", cfg.SessionSkew)
	}
	if want := []string{"api.example.com", "*.cdn.example.com"}; !reflect.DeepEqual(cfg.AllowedDomains, want) {
		t.Errorf("AllowedDomains = %v, want %v", cfg.AllowedDomains, want)
	}
	if len(cfg.SessionSigningKey) != 32 {
		t.Errorf("SessionSigningKey length = %d, want 32", len(cfg.SessionSigningKey))
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestFromEnvDefaultsToProduction(t *testing.T) {
	t.Setenv("APP_PROFILE", "")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if !cfg.IsProduction() {
		t.Errorf("Profile = %q, want production when unset", cfg.Profile)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown profile", "APP_PROFILE", "staging"},
		{"bad timeout", "PROXY_TIMEOUT", "soon"},
		{"bad redirects", "PROXY_MAX_REDIRECTS", "many"},
		{"bad size", "MAX_RESPONSE_BYTES", "10MB"},
		{"bad key", "SESSION_SIGNING_KEY", "not hex or base64!"},
		{"bad skew", "SESSION_SKEW", "1 minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setProductionEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("FromEnv() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.key {
				t.Errorf("ConfigError.Field = %q, want %q", cfgErr.Field, tt.key)
			}
		})
	}
}

func TestFromEnvCSPSettings(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("CSP_REPORT_ONLY", "true")
	t.Setenv("CSP_SCRIPT_ORIGINS", "https://js.example.com")
	t.Setenv("CSP_IMG_ORIGINS", "https://img.example.com, https://js.example.com")
	t.Setenv("CSP_EXPECTED_ORIGINS", "https://*.analytics.example.com")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if !cfg.CSPReportOnly {
		t.Error("CSPReportOnly should be true")
	}

	want := []string{"https://*.analytics.example.com", "https://js.example.com", "https://img.example.com"}
	if got := cfg.ExpectedOrigins(); !reflect.DeepEqual(got, want) {
		t.Errorf("ExpectedOrigins() = %v, want %v", got, want)
	}
}

func TestFromEnvDisableReporting(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("CSP_REPORT_URI", "-")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.CSPReportURI != "" {
		t.Errorf("CSPReportURI = %q, want empty", cfg.CSPReportURI)
	}
}

func validProductionConfig() Config {
	key, _ := hex.DecodeString(testKey)
	return Config{
		Profile:           csp.ProfileProduction,
		Port:              "8080",
		UpstreamBaseURL:   "https://api.example.com/files",
		AllowedDomains:    []string{"api.example.com"},
		ProxyTimeout:      5 * time.Second,
		MaxResponseBytes:  1 << 20,
		CSPReportURI:      "/csp-report",
		SessionSigningKey: key,
		SessionSkew:       time.Minute,
		LogLevel:          "info",
		EnableHSTS:        true,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad profile", func(c *Config) { c.Profile = "staging" }, "APP_PROFILE"},
		{"missing port", func(c *Config) { c.Port = "" }, "PORT"},
		{"port out of range", func(c *Config) { c.Port = "70000" }, "PORT"},
		{"missing domains", func(c *Config) { c.AllowedDomains = nil }, "ALLOWED_DOMAINS"},
		{"domain with scheme", func(c *Config) { c.AllowedDomains = []string{"https://api.example.com"} }, "ALLOWED_DOMAINS"},
		{"missing upstream", func(c *Config) { c.UpstreamBaseURL = "" }, "UPSTREAM_API_BASE_URL"},
		{"upstream not allowlisted", func(c *Config) { c.UpstreamBaseURL = "https://other.example.net" }, "UPSTREAM_API_BASE_URL"},
		{"plain http upstream in production", func(c *Config) { c.UpstreamBaseURL = "http://api.example.com" }, "UPSTREAM_API_BASE_URL"},
		{"zero timeout", func(c *Config) { c.ProxyTimeout = 0 }, "PROXY_TIMEOUT"},
		{"huge timeout", func(c *Config) { c.ProxyTimeout = time.Minute }, "PROXY_TIMEOUT"},
		{"negative redirects", func(c *Config) { c.ProxyMaxRedirects = -1 }, "PROXY_MAX_REDIRECTS"},
		{"redirects in production", func(c *Config) { c.ProxyMaxRedirects = 1 }, "PROXY_MAX_REDIRECTS"},
		{"zero size", func(c *Config) { c.MaxResponseBytes = 0 }, "MAX_RESPONSE_BYTES"},
		{"relative report uri", func(c *Config) { c.CSPReportURI = "csp-report" }, "CSP_REPORT_URI"},
		{"short key", func(c *Config) { c.SessionSigningKey = []byte("short") }, "SESSION_SIGNING_KEY"},
		{"short secondary key", func(c *Config) { c.SecondarySessionSigningKey = []byte("short") }, "SECONDARY_SESSION_SIGNING_KEY"},
		{"missing key in production", func(c *Config) { c.SessionSigningKey = nil }, "SESSION_SIGNING_KEY"},
		{"skew too large", func(c *Config) { c.SessionSkew = 3 * time.Minute }, "SESSION_SKEW"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
		{"localhost in production", func(c *Config) { c.AllowLocalhost = true }, "ALLOW_LOCALHOST"},
		{"wildcard origin in production", func(c *Config) { c.CSPOrigins.Script = []string{"https://*.example.com"} }, "CSP_*_ORIGINS"},
		{"unsafe-inline origin in production", func(c *Config) { c.CSPOrigins.Style = []string{"'unsafe-inline'"} }, "CSP_*_ORIGINS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validProductionConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("ConfigError.Field = %q, want %q (%v)", cfgErr.Field, tt.field, err)
			}
		})
	}
}

func TestValidateDevelopmentRelaxations(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Profile = csp.ProfileDevelopment
	cfg.UpstreamBaseURL = "http://localhost:9000"
	cfg.AllowedDomains = []string{"localhost"}
	cfg.AllowLocalhost = true
	cfg.ProxyMaxRedirects = 2
	cfg.SessionSigningKey = nil

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	policy, err := cfg.FetchPolicy()
	if err != nil {
		t.Fatalf("FetchPolicy() error = %v", err)
	}
	if !policy.AllowLocalhost || policy.MaxRedirects != 2 {
		t.Errorf("FetchPolicy() = %+v, want localhost and 2 redirects", policy)
	}
}

func TestFetchPolicyNeverAllowsLocalhostInProduction(t *testing.T) {
	cfg := validProductionConfig()
	cfg.AllowLocalhost = true

	policy, err := cfg.FetchPolicy()
	if err != nil {
		t.Fatalf("FetchPolicy() error = %v", err)
	}
	if policy.AllowLocalhost {
		t.Error("FetchPolicy() must not allow localhost in production")
	}
	if policy.Timeout != cfg.ProxyTimeout || policy.MaxBytes != cfg.MaxResponseBytes {
		t.Errorf("FetchPolicy() = %+v, does not carry limits", policy)
	}
}

func TestDecodeKey(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")

	tests := []struct {
		name  string
		input string
	}{
		{"hex", hex.EncodeToString(raw)},
		{"base64", base64.StdEncoding.EncodeToString(raw)},
		{"base64url", base64.RawURLEncoding.EncodeToString(raw)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeKey("SESSION_SIGNING_KEY", tt.input)
			if err != nil {
				t.Fatalf("decodeKey() error = %v", err)
			}
			if string(got) != string(raw) {
				t.Errorf("decodeKey() = %q, want %q", got, raw)
			}
		})
	}

	if _, err := decodeKey("SESSION_SIGNING_KEY", "%%%"); err == nil {
		t.Error("decodeKey() expected error for invalid input")
	}
}

func TestParseCSV(t *testing.T) {
	t.Setenv("TEST_CSV", " One ,two,,ONE, three ")
	want := []string{"one", "two", "three"}
	if got := parseCSV("TEST_CSV"); !reflect.DeepEqual(got, want) {
		t.Errorf("parseCSV() = %v, want %v", got, want)
	}

	t.Setenv("TEST_CSV", "")
	if got := parseCSV("TEST_CSV"); got != nil {
		t.Errorf("parseCSV() = %v, want nil", got)
	}
}

func TestParseBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "nonsense")
	if !parseBool("TEST_BOOL", true) {
		t.Error("parseBool() should fall back to default on invalid input")
	}
	t.Setenv("TEST_BOOL", "false")
	if parseBool("TEST_BOOL", true) {
		t.Error("parseBool() = true, want false")
	}
}

func TestRedacted(t *testing.T) {
	cfg := validProductionConfig()
	cfg.SecondarySessionSigningKey = cfg.SessionSigningKey

	r := cfg.Redacted()
	if got := r["session_signing_key"]; got != "*** (32 bytes)" {
		t.Errorf("session_signing_key = %v, want redacted", got)
	}
	if got := r["secondary_session_signing_key"]; got != "*** (32 bytes)" {
		t.Errorf("secondary_session_signing_key = %v, want redacted", got)
	}
	if r["profile"] != "production" {
		t.Errorf("profile = %v, want production", r["profile"])
	}
	for k, v := range r {
		if s, ok := v.(string); ok && strings.Contains(s, testKey) {
			t.Errorf("%s leaks the signing key", k)
		}
	}
}
