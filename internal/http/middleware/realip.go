package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of peers allowed to report the client address
// through X-Forwarded-For or X-Real-Ip.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies accepts bare IPs and CIDR blocks.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("middleware: invalid trusted proxy %q", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, block, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("middleware: invalid trusted proxy %q: %w", entry, err)
		}
		out = append(out, block)
	}
	return out, nil
}

// Contains reports whether ip belongs to a trusted proxy.
func (t TrustedProxies) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, block := range t {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP rewrites RemoteAddr from forwarding headers, but only when the
// direct peer is a trusted proxy. X-Forwarded-For is walked right to left and
// the first hop that is not itself trusted wins. Requests from any other peer
// keep their socket address, whatever headers they carry.
func RealIP(trusted TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(trusted) > 0 && trusted.Contains(net.ParseIP(ClientIP(r))) {
				if ip := forwardedClient(r, trusted); ip != "" {
					r.RemoteAddr = net.JoinHostPort(ip, "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedClient(r *http.Request, trusted TrustedProxies) string {
	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(header, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			return ""
		}
		if !trusted.Contains(ip) || i == 0 {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); ip != nil {
		return ip.String()
	}
	return ""
}
