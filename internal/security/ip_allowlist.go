package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ParseCIDRAllowlist parses the configured allowlist. Entries are
// CIDR blocks; a bare address is treated as a single-host block so
// ops can pin individual desk machines without writing /32.
func ParseCIDRAllowlist(entries []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("allowlist entry %q is not an address or CIDR block", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, block, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("allowlist entry %q: %w", entry, err)
		}
		out = append(out, block)
	}
	return out, nil
}

// IPAllowlist gates the console to the operator network. An empty
// allowlist admits everyone (local and test setups). Loopback is
// always admitted so health checks and on-box tooling keep working
// when the allowlist only names the desk subnets.
func IPAllowlist(allow []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allow) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil {
				WriteJSONErrorDetail(w, r, http.StatusForbidden, "forbidden",
					"source address could not be parsed")
				return
			}
			if ip.IsLoopback() {
				next.ServeHTTP(w, r)
				return
			}
			for _, block := range allow {
				if block.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}

			WriteJSONErrorDetail(w, r, http.StatusForbidden, "forbidden",
				"source address is outside the console allowlist")
		})
	}
}
