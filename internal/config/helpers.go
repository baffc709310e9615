package config

import "strings"

// IsLocalhost returns true if the hostname is a local development address.
// This includes localhost, *.localhost, 127.0.0.1, and IPv6 localhost (::1).
func IsLocalhost(hostname string) bool {
	h := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")

	return h == "localhost" ||
		strings.HasSuffix(h, ".localhost") ||
		h == "127.0.0.1" ||
		h == "::1" ||
		h == "[::1]"
}

// AllowsOnlyLocalhost reports whether every allowed domain is a local
// development address.
func (c Config) AllowsOnlyLocalhost() bool {
	if len(c.AllowedDomains) == 0 {
		return false
	}
	for _, d := range c.AllowedDomains {
		if !IsLocalhost(strings.TrimPrefix(d, "*.")) {
			return false
		}
	}
	return true
}
