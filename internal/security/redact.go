package security

import (
	"net/url"
	"strings"
)

// RedactURI strips the parts of a URI that commonly carry secrets (userinfo,
// query, fragment) so the value is safe to log. Values that are not absolute
// URIs, such as the CSP keywords "inline" or "eval", only lose anything after
// a query or fragment marker.
func RedactURI(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Opaque != "" {
		// Not a hierarchical URI: cut at the first query or fragment marker.
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}

	u.User = nil
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}
