package security

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// HostAllowlist matches hostnames against exact entries and "*.domain"
// wildcards. A wildcard entry admits the bare domain and any subdomain on a
// label boundary; an exact entry admits only itself. IP literals never match.
type HostAllowlist struct {
	exact map[string]struct{}
	wild  map[string]struct{}
}

func NewHostAllowlist(hosts []string) (*HostAllowlist, error) {
	h := &HostAllowlist{
		exact: make(map[string]struct{}),
		wild:  make(map[string]struct{}),
	}

	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}

		if err := validateHost(host); err != nil {
			return nil, fmt.Errorf("invalid host %q: %w", host, err)
		}

		host = strings.TrimSuffix(strings.ToLower(host), ".")

		if strings.HasPrefix(host, "*.") {
			base := host[2:]
			if base == "" {
				return nil, fmt.Errorf("invalid wildcard host %q: empty base", host)
			}
			h.wild[base] = struct{}{}
		} else {
			h.exact[host] = struct{}{}
		}
	}

	return h, nil
}

func (h *HostAllowlist) IsAllowed(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")

	if host == "" {
		return false
	}

	if isIPAddress(host) {
		return false
	}

	if _, ok := h.exact[host]; ok {
		return true
	}

	for base := range h.wild {
		if host == base || strings.HasSuffix(host, "."+base) {
			return true
		}
	}

	return false
}

// Len returns the number of entries.
func (h *HostAllowlist) Len() int {
	return len(h.exact) + len(h.wild)
}

// Entries returns the normalized entries, sorted, wildcards in "*.x" form.
func (h *HostAllowlist) Entries() []string {
	out := make([]string, 0, h.Len())
	for host := range h.exact {
		out = append(out, host)
	}
	for base := range h.wild {
		out = append(out, "*."+base)
	}
	sort.Strings(out)
	return out
}

func validateHost(host string) error {
	if strings.Contains(host, "://") {
		return fmt.Errorf("must not contain scheme")
	}

	if strings.ContainsAny(host, " \t\r\n") {
		return fmt.Errorf("must not contain whitespace")
	}

	cleaned := strings.TrimPrefix(host, "*.")

	if strings.Contains(cleaned, "*") {
		return fmt.Errorf("wildcard only allowed as leading label")
	}

	if strings.Contains(cleaned, ":") {
		return fmt.Errorf("must not contain port")
	}

	if strings.Contains(cleaned, "/") {
		return fmt.Errorf("must not contain path")
	}

	return nil
}

func isIPAddress(host string) bool {
	return net.ParseIP(strings.Trim(host, "[]")) != nil
}
