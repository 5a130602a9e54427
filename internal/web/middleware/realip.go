package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/JonMunkholm/itassets/internal/core"
)

// proxySet holds the networks whose forwarding headers are believed.
type proxySet []netip.Prefix

// parseProxies reads CIDRs or bare addresses. Invalid entries are logged
// and skipped.
func parseProxies(entries []string) proxySet {
	var set proxySet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			set = append(set, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy", "entry", entry, "error", err)
			continue
		}
		addr = addr.Unmap()
		set = append(set, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return set
}

func (s proxySet) contains(addr netip.Addr) bool {
	for _, prefix := range s {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientAddr resolves the uploader's address. Forwarding headers count only
// when the connection comes from a trusted proxy: X-Real-IP first, then the
// left-most X-Forwarded-For entry.
func (s proxySet) clientAddr(r *http.Request) (netip.Addr, bool) {
	remote, ok := remoteAddr(r.RemoteAddr)
	if !ok || !s.contains(remote) {
		return remote, false
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(rip)); err == nil {
			return addr.Unmap(), true
		}
		return remote, false
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap(), true
		}
	}
	return remote, false
}

func remoteAddr(hostport string) (netip.Addr, bool) {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// TrustedRealIP resolves the client address once per request and records it
// with core.ContextWithClientIP together with the User-Agent. RemoteAddr is
// rewritten only when a trusted proxy supplied the address.
func TrustedRealIP(trustedCIDRs []string) func(http.Handler) http.Handler {
	proxies := parseProxies(trustedCIDRs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if addr, forwarded := proxies.clientAddr(r); addr.IsValid() {
				ip = addr.String()
				if forwarded {
					r.RemoteAddr = ip
				}
			}

			ctx := core.ContextWithClientIP(r.Context(), ip)
			ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the address recorded by TrustedRealIP, falling back to
// the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := core.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if addr, ok := remoteAddr(r.RemoteAddr); ok {
		return addr.String()
	}
	return r.RemoteAddr
}
