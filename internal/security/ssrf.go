package security

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// privateRanges is parsed once at init for efficient SSRF checks.
var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC 1918
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"100.64.0.0/10",  // carrier-grade NAT
		"169.254.0.0/16", // link-local / cloud metadata
		"0.0.0.0/8",      // unspecified (routes to localhost)
		"198.18.0.0/15",  // benchmarking
		"240.0.0.0/4",    // reserved, includes broadcast
		"::1/128",        // IPv6 loopback
		"::/128",         // IPv6 unspecified
		"fc00::/7",       // IPv6 unique local
		"fe80::/10",      // IPv6 link-local
	} {
		_, ipNet, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, ipNet)
	}
}

// IsPrivateIP returns true if ip is loopback, private, link-local,
// multicast, unspecified, or otherwise not a public unicast address.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	for _, cidr := range privateRanges {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// isLoopbackName reports whether host is a name that always resolves to
// loopback (RFC 6761), so it can be classified without DNS.
func isLoopbackName(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}

// Resolver is the subset of *net.Resolver the fetcher needs. Tests inject
// a static table.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// literalIPs classifies host without DNS. ok is false when host needs a lookup.
func literalIPs(host string) (ips []net.IP, ok bool) {
	normalized := strings.Trim(strings.TrimSpace(host), "[]")
	// Strip an optional IPv6 zone so ParseIP stays deterministic.
	if idx := strings.IndexByte(normalized, '%'); idx != -1 {
		normalized = normalized[:idx]
	}
	if ip := net.ParseIP(normalized); ip != nil {
		return []net.IP{ip}, true
	}
	if isLoopbackName(normalized) {
		return []net.IP{net.IPv4(127, 0, 0, 1)}, true
	}
	return nil, false
}

func resolveHost(ctx context.Context, resolver Resolver, host string) ([]net.IP, error) {
	if ips, ok := literalIPs(host); ok {
		return ips, nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed for %q: %w", host, err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if a.IP != nil {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("DNS lookup returned no addresses for %q", host)
	}
	return ips, nil
}

// checkAddresses rejects the whole set if any address is non-public.
// Loopback is tolerated only when allowLoopback is set.
func checkAddresses(host string, ips []net.IP, allowLoopback bool) error {
	for _, ip := range ips {
		if allowLoopback && ip.IsLoopback() {
			continue
		}
		if IsPrivateIP(ip) {
			return &ProtectionBlockedError{Reason: BlockPrivateIP, Host: host}
		}
	}
	return nil
}

func allLoopback(ips []net.IP) bool {
	for _, ip := range ips {
		if !ip.IsLoopback() {
			return false
		}
	}
	return len(ips) > 0
}
