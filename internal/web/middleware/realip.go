package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedRealIP rewrites r.RemoteAddr to the client address reported by a
// proxy, but only when the connection itself comes from one of trustedCIDRs.
// Requests from anywhere else keep their connection address, so a client
// cannot pick its own rate limit bucket or audit IP.
//
// X-Real-IP wins when present and valid. Otherwise X-Forwarded-For is walked
// from the right and the first hop outside the trusted ranges is used.
func TrustedRealIP(trustedCIDRs []string) func(http.Handler) http.Handler {
	trusted := parsePrefixes(trustedCIDRs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if remote, ok := ParseAddr(r.RemoteAddr); ok && isTrusted(remote, trusted) {
				if client, ok := forwardedClient(r.Header, trusted); ok {
					r.RemoteAddr = client.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParseAddr extracts the IP from a "host:port" or bare address.
func ParseAddr(addr string) (netip.Addr, bool) {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func parsePrefixes(cidrs []string) []netip.Prefix {
	var out []netip.Prefix
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if p, err := netip.ParsePrefix(cidr); err == nil {
			out = append(out, p.Masked())
			continue
		}
		// A bare address trusts exactly that host.
		if ip, err := netip.ParseAddr(cidr); err == nil {
			ip = ip.Unmap()
			out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
			continue
		}
		slog.Warn("realip: invalid trusted proxy CIDR, skipping", "cidr", cidr)
	}
	return out
}

func isTrusted(ip netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func forwardedClient(h http.Header, trusted []netip.Prefix) (netip.Addr, bool) {
	if ip, ok := ParseAddr(h.Get("X-Real-IP")); ok {
		return ip, true
	}

	xff := h.Get("X-Forwarded-For")
	if xff == "" {
		return netip.Addr{}, false
	}

	hops := strings.Split(xff, ",")
	var leftmost netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := ParseAddr(hops[i])
		if !ok {
			// Anything left of a garbage hop was written by the client.
			break
		}
		leftmost = ip
		if !isTrusted(ip, trusted) {
			return ip, true
		}
	}
	return leftmost, leftmost.IsValid()
}
