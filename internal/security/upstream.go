package security

import (
	"fmt"
	"net/url"
	"strings"
)

// UpstreamBase is a validated absolute base URL for proxied requests.
type UpstreamBase struct {
	u *url.URL
}

// ParseUpstreamBase validates the configured upstream API base. When allow
// is non-nil the host must be on it; requireHTTPS rejects plain http. Query, fragment, and
// userinfo are refused rather than silently dropped.
func ParseUpstreamBase(raw string, allow *HostAllowlist, requireHTTPS bool) (UpstreamBase, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UpstreamBase{}, fmt.Errorf("empty URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return UpstreamBase{}, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if requireHTTPS {
			return UpstreamBase{}, fmt.Errorf("URL must use HTTPS scheme, got %q", u.Scheme)
		}
	default:
		return UpstreamBase{}, fmt.Errorf("URL must use http or https scheme, got %q", u.Scheme)
	}

	if u.User != nil {
		return UpstreamBase{}, fmt.Errorf("URL must not contain credentials")
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return UpstreamBase{}, fmt.Errorf("URL must not contain a query or fragment")
	}

	hostname := strings.TrimRight(strings.ToLower(u.Hostname()), ".")
	if hostname == "" {
		return UpstreamBase{}, fmt.Errorf("URL must have a host")
	}
	if allow != nil && !allow.IsAllowed(hostname) {
		return UpstreamBase{}, fmt.Errorf("host %q is not in the allowed domains", hostname)
	}

	if port := u.Port(); port != "" {
		u.Host = hostname + ":" + port
	} else {
		u.Host = hostname
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return UpstreamBase{u: u}, nil
}

// Resolve joins a sanitized resource path onto the base. The path must come
// from a valid PathDecision.
func (b UpstreamBase) Resolve(sanitizedPath string) string {
	u := *b.u
	u.Path = b.u.Path + "/" + strings.TrimLeft(sanitizedPath, "/")
	return u.String()
}

// Host returns the normalized base host for logging.
func (b UpstreamBase) Host() string {
	if b.u == nil {
		return ""
	}
	return b.u.Hostname()
}

func (b UpstreamBase) String() string {
	if b.u == nil {
		return ""
	}
	return b.u.String()
}
