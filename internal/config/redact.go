package config

import (
	"fmt"
)

// Redacted returns a map suitable for logging/json with secrets replaced by "***"
func (c Config) Redacted() map[string]any {
	redacted := make(map[string]any)

	redacted["profile"] = string(c.Profile)
	redacted["port"] = c.Port
	redacted["upstream_api_base_url"] = c.UpstreamBaseURL
	redacted["allowed_domains"] = c.AllowedDomains
	redacted["allow_localhost"] = c.AllowLocalhost
	redacted["proxy_timeout"] = c.ProxyTimeout.String()
	redacted["proxy_max_redirects"] = c.ProxyMaxRedirects
	redacted["max_response_bytes"] = c.MaxResponseBytes
	redacted["csp_report_only"] = c.CSPReportOnly
	redacted["csp_report_uri"] = c.CSPReportURI
	redacted["csp_origins"] = map[string][]string{
		"script":  c.CSPOrigins.Script,
		"style":   c.CSPOrigins.Style,
		"img":     c.CSPOrigins.Img,
		"font":    c.CSPOrigins.Font,
		"connect": c.CSPOrigins.Connect,
	}
	redacted["csp_expected_origins"] = c.CSPExpectedOrigins
	redacted["session_skew"] = c.SessionSkew.String()
	redacted["log_level"] = c.LogLevel
	redacted["enable_hsts"] = c.EnableHSTS

	// Redact sensitive fields
	if len(c.SessionSigningKey) > 0 {
		redacted["session_signing_key"] = fmt.Sprintf("*** (%d bytes)", len(c.SessionSigningKey))
	}
	if len(c.SecondarySessionSigningKey) > 0 {
		redacted["secondary_session_signing_key"] = fmt.Sprintf("*** (%d bytes)", len(c.SecondarySessionSigningKey))
	}

	return redacted
}
