package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mlehotskylf-org/securegate/internal/csp"
	"github.com/mlehotskylf-org/securegate/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Profile: development or production (default: production)
	Profile csp.Profile

	// Server port (default: 8080)
	Port string

	// Upstream API base URL for proxied images
	UpstreamBaseURL string

	// Hosts the guarded fetcher may contact, exact or "*.domain"
	AllowedDomains []string

	// Permit loopback upstreams (development only)
	AllowLocalhost bool

	// Hard upstream timeout (default: 5s)
	ProxyTimeout time.Duration

	// Redirect hops the fetcher follows (default: 0)
	ProxyMaxRedirects int

	// Maximum proxied body size in bytes (default: 10 MiB)
	MaxResponseBytes int64

	// Send Content-Security-Policy-Report-Only instead of enforcing
	CSPReportOnly bool

	// report-uri endpoint path (default: /csp-report); "-" disables reporting
	CSPReportURI string

	// Extra origins per CSP directive
	CSPOrigins csp.Origins

	// Glob patterns of third-party origins expected in violation reports
	CSPExpectedOrigins []string

	// Session cookie signing key - decoded from hex or base64
	SessionSigningKey []byte

	// Secondary session signing key for key rotation (optional)
	SecondarySessionSigningKey []byte

	// Clock skew allowance for session cookies (default: 1m)
	SessionSkew time.Duration

	// Log level: info, debug, warn, error (default: info)
	LogLevel string

	// Enable HSTS - default false in development, true in production
	EnableHSTS bool
}

// ConfigError is a missing or invalid setting. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FromEnv reads configuration from environment variables
func FromEnv() (Config, error) {
	cfg := Config{}

	profile, err := csp.ParseProfile(strings.ToLower(getEnv("APP_PROFILE", string(csp.ProfileProduction))))
	if err != nil {
		return cfg, invalid("APP_PROFILE", "must be 'development' or 'production' (got %q)", os.Getenv("APP_PROFILE"))
	}
	cfg.Profile = profile
	prod := cfg.Profile == csp.ProfileProduction

	cfg.Port = getEnv("PORT", "8080")
	cfg.UpstreamBaseURL = strings.TrimSpace(getEnv("UPSTREAM_API_BASE_URL", ""))
	cfg.AllowedDomains = parseCSV("ALLOWED_DOMAINS")
	cfg.AllowLocalhost = parseBool("ALLOW_LOCALHOST", false)

	cfg.ProxyTimeout, err = parseDuration("PROXY_TIMEOUT", "5s")
	if err != nil {
		return cfg, err
	}
	cfg.ProxyMaxRedirects, err = parseInt("PROXY_MAX_REDIRECTS", 0)
	if err != nil {
		return cfg, err
	}
	maxBytes, err := parseInt("MAX_RESPONSE_BYTES", int(security.DefaultMaxResponseBytes))
	if err != nil {
		return cfg, err
	}
	cfg.MaxResponseBytes = int64(maxBytes)

	cfg.CSPReportOnly = parseBool("CSP_REPORT_ONLY", false)
	cfg.CSPReportURI = getEnv("CSP_REPORT_URI", "/csp-report")
	if cfg.CSPReportURI == "-" {
		cfg.CSPReportURI = ""
	}
	cfg.CSPOrigins = csp.Origins{
		Script:  parseCSV("CSP_SCRIPT_ORIGINS"),
		Style:   parseCSV("CSP_STYLE_ORIGINS"),
		Img:     parseCSV("CSP_IMG_ORIGINS"),
		Font:    parseCSV("CSP_FONT_ORIGINS"),
		Connect: parseCSV("CSP_CONNECT_ORIGINS"),
	}
	cfg.CSPExpectedOrigins = parseCSV("CSP_EXPECTED_ORIGINS")

	if key := getEnv("SESSION_SIGNING_KEY", ""); key != "" {
		cfg.SessionSigningKey, err = decodeKey("SESSION_SIGNING_KEY", key)
		if err != nil {
			return cfg, err
		}
	}
	if key := getEnv("SECONDARY_SESSION_SIGNING_KEY", ""); key != "" {
		cfg.SecondarySessionSigningKey, err = decodeKey("SECONDARY_SESSION_SIGNING_KEY", key)
		if err != nil {
			return cfg, err
		}
	}

	cfg.SessionSkew, err = parseDuration("SESSION_SKEW", "1m")
	if err != nil {
		return cfg, err
	}

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.EnableHSTS = parseBool("ENABLE_HSTS", prod)

	return cfg, nil
}

// Validate checks that required fields are set and enforces production
// constraints. Every failure is a *ConfigError.
func (c *Config) Validate() error {
	if _, err := csp.ParseProfile(string(c.Profile)); err != nil {
		return invalid("APP_PROFILE", "must be 'development' or 'production' (got %q)", c.Profile)
	}
	prod := c.Profile == csp.ProfileProduction

	if c.Port == "" {
		return invalid("PORT", "is required (set to a port number 1-65535, e.g., 8080)")
	}
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return invalid("PORT", "must be a valid number 1-65535 (got %q)", c.Port)
	}

	if len(c.AllowedDomains) == 0 {
		return invalid("ALLOWED_DOMAINS", "is required (comma-separated hosts or *.domain wildcards)")
	}
	allow, err := c.HostAllowlist()
	if err != nil {
		return invalid("ALLOWED_DOMAINS", "is invalid: %v", err)
	}

	if c.UpstreamBaseURL == "" {
		return invalid("UPSTREAM_API_BASE_URL", "is required (e.g., https://api.example.com/files)")
	}
	if _, err := security.ParseUpstreamBase(c.UpstreamBaseURL, allow, prod); err != nil {
		return invalid("UPSTREAM_API_BASE_URL", "is invalid: %v", err)
	}

	if c.ProxyTimeout < time.Millisecond || c.ProxyTimeout > 30*time.Second {
		return invalid("PROXY_TIMEOUT", "must be between 1ms and 30s (got %v)", c.ProxyTimeout)
	}
	if c.ProxyMaxRedirects < 0 || c.ProxyMaxRedirects > 5 {
		return invalid("PROXY_MAX_REDIRECTS", "must be 0-5 (got %d)", c.ProxyMaxRedirects)
	}
	if c.MaxResponseBytes < 1 {
		return invalid("MAX_RESPONSE_BYTES", "must be positive (got %d)", c.MaxResponseBytes)
	}

	if c.CSPReportURI != "" && !strings.HasPrefix(c.CSPReportURI, "/") && !strings.HasPrefix(c.CSPReportURI, "https://") {
		return invalid("CSP_REPORT_URI", "must be a path or an https URL (got %q)", c.CSPReportURI)
	}

	if len(c.SessionSigningKey) > 0 && len(c.SessionSigningKey) < 32 {
		return invalid("SESSION_SIGNING_KEY", "must be at least 32 bytes for security (got %d bytes, need 32+)", len(c.SessionSigningKey))
	}
	if len(c.SecondarySessionSigningKey) > 0 && len(c.SecondarySessionSigningKey) < 32 {
		return invalid("SECONDARY_SESSION_SIGNING_KEY", "must be at least 32 bytes for security (got %d bytes, need 32+)", len(c.SecondarySessionSigningKey))
	}
	if len(c.SessionSigningKey) == 0 && len(c.SecondarySessionSigningKey) > 0 {
		return invalid("SESSION_SIGNING_KEY", "is required when a secondary key is set")
	}

	if c.SessionSkew < 0 || c.SessionSkew > 2*time.Minute {
		return invalid("SESSION_SKEW", "must be between 0 and 2m (got %v)", c.SessionSkew)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return invalid("LOG_LEVEL", "must be 'debug', 'info', 'warn', or 'error' (got %q)", c.LogLevel)
	}

	// Production-only constraints
	if prod {
		if c.AllowLocalhost {
			return invalid("ALLOW_LOCALHOST", "must be false in production")
		}
		if c.AllowsOnlyLocalhost() {
			return invalid("ALLOWED_DOMAINS", "must not be localhost-only in production")
		}
		if c.ProxyMaxRedirects != 0 {
			return invalid("PROXY_MAX_REDIRECTS", "must be 0 in production (got %d)", c.ProxyMaxRedirects)
		}
		if len(c.SessionSigningKey) == 0 {
			return invalid("SESSION_SIGNING_KEY", "is required in production (generate a 32+ byte hex string)")
		}
		for _, origin := range c.CSPOrigins.All() {
			if strings.Contains(origin, "*") || strings.EqualFold(origin, csp.SourceUnsafeInline) {
				return invalid("CSP_*_ORIGINS", "must not contain wildcards or 'unsafe-inline' in production (got %q)", origin)
			}
		}
	}

	return nil
}

// Helper functions

// getEnv returns the value of an environment variable or a default value
func getEnv(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}

// parseCSV splits a CSV environment variable into a slice
// It trims spaces, converts to lowercase, deduplicates, and drops empty values
func parseCSV(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	seen := make(map[string]bool)
	result := make([]string, 0)

	for _, p := range parts {
		trimmed := strings.TrimSpace(strings.ToLower(p))
		if trimmed != "" && !seen[trimmed] {
			seen[trimmed] = true
			result = append(result, trimmed)
		}
	}
	return result
}

// parseDuration parses a duration environment variable with a default
func parseDuration(key, def string) (time.Duration, error) {
	value := getEnv(key, def)
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, invalid(key, "is not a valid duration: %v", err)
	}
	return dur, nil
}

// parseInt parses an integer environment variable with a default
func parseInt(key string, def int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, invalid(key, "is not a valid integer (got %q)", value)
	}
	return n, nil
}

// parseBool parses a boolean environment variable with a default
func parseBool(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

// decodeKey decodes a key from hex or base64 encoding
func decodeKey(field, key string) ([]byte, error) {
	// Try hex first (most common for keys)
	if decoded, err := hex.DecodeString(key); err == nil {
		return decoded, nil
	}

	// Try standard base64
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil {
		return decoded, nil
	}

	// Try base64 URL encoding (no padding)
	if decoded, err := base64.RawURLEncoding.DecodeString(key); err == nil {
		return decoded, nil
	}

	return nil, invalid(field, "must be valid hex or base64 encoding")
}

// IsProduction reports whether the production profile is active.
func (c Config) IsProduction() bool {
	return c.Profile == csp.ProfileProduction
}

// HostAllowlist builds the fetcher allowlist from AllowedDomains.
func (c Config) HostAllowlist() (*security.HostAllowlist, error) {
	return security.NewHostAllowlist(c.AllowedDomains)
}

// UpstreamBase parses the validated upstream base URL.
func (c Config) UpstreamBase() (security.UpstreamBase, error) {
	allow, err := c.HostAllowlist()
	if err != nil {
		return security.UpstreamBase{}, err
	}
	return security.ParseUpstreamBase(c.UpstreamBaseURL, allow, c.IsProduction())
}

// FetchPolicy returns the containment policy for image proxying.
func (c Config) FetchPolicy() (security.FetchPolicy, error) {
	allow, err := c.HostAllowlist()
	if err != nil {
		return security.FetchPolicy{}, err
	}
	return security.FetchPolicy{
		AllowedDomains: allow,
		AllowLocalhost: c.AllowLocalhost && !c.IsProduction(),
		Timeout:        c.ProxyTimeout,
		MaxRedirects:   c.ProxyMaxRedirects,
		MaxBytes:       c.MaxResponseBytes,
	}, nil
}

// ExpectedOrigins returns the violation-analysis patterns: the configured
// globs plus every origin already allowed by the policy.
func (c Config) ExpectedOrigins() []string {
	out := append([]string(nil), c.CSPExpectedOrigins...)
	return append(out, c.CSPOrigins.All()...)
}
