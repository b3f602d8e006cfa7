package gate

import (
	"net"
	"net/netip"
	"strings"
)

// NormalizeAddr reduces a remote address to the key the heuristics use:
// port and CIDR suffix stripped, IPv4-in-IPv6 unmapped, IPv6 zone dropped.
// Unparseable input is returned trimmed so it still gets its own bucket.
func NormalizeAddr(raw string) string {
	s := strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	if idx := strings.IndexByte(s, '/'); idx != -1 {
		s = s[:idx]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		if s == "" {
			return "unknown"
		}
		return s
	}
	return addr.Unmap().WithZone("").String()
}
