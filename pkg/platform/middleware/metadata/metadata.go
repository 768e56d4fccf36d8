// Package metadata records who is calling: the client IP used for OTP rate
// limiting and the User-Agent summarized on audit events.
package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"healthid/pkg/requestcontext"
)

const unknownClient = "unknown"

// Resolver finds the client address. Forwarding headers are honoured only
// when the connection peer is one of the trusted proxies; otherwise the peer
// itself is the client.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver accepts CIDRs or bare addresses for the trusted proxies.
func NewResolver(trustedProxies []string) (*Resolver, error) {
	res := &Resolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			res.trusted = append(res.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", raw)
		}
		addr = addr.Unmap()
		res.trusted = append(res.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return res, nil
}

var direct = &Resolver{}

// ClientMetadata stores the peer address and User-Agent without trusting any
// forwarding header.
func ClientMetadata(next http.Handler) http.Handler {
	return direct.Middleware(next)
}

// ClientIPFromRequest is the peer address, ignoring forwarding headers.
func ClientIPFromRequest(r *http.Request) string {
	return direct.ClientIP(r)
}

// Middleware stores the client IP and User-Agent in the request context.
// Apply it before the rate limiter.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), res.ClientIP(r), r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP walks X-Forwarded-For from the right, skipping trusted hops, and
// returns the first address a trusted proxy vouched for. X-Real-IP is used
// when a trusted peer sent no forwarding chain.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := hostOnly(r.RemoteAddr)
	if peer == "" {
		return unknownClient
	}
	if !res.trusts(peer) {
		return peer
	}

	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(header, ",") {
			if hop = hostOnly(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !res.trusts(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	if realIP := hostOnly(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

func (res *Resolver) trusts(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range res.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// hostOnly drops a port and brackets when the value is an address with one.
func hostOnly(raw string) string {
	raw = strings.TrimSpace(raw)
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		return host
	}
	return raw
}
