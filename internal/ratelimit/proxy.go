package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ErrInvalidProxy reports a trusted proxy entry that is neither an IP nor a CIDR
var ErrInvalidProxy = errors.New("trusted proxy must be an IP address or CIDR")

// ProxyTrust decides which forwarding headers may name the client.
// X-Forwarded-For and X-Real-IP are only read when the socket peer is inside
// one of the trusted networks; otherwise the peer address is the client.
// A nil *ProxyTrust trusts nobody.
type ProxyTrust struct {
	prefixes []netip.Prefix
}

// NewProxyTrust parses proxies as CIDRs or bare IPs
func NewProxyTrust(proxies []string) (*ProxyTrust, error) {
	t := &ProxyTrust{}
	for _, raw := range proxies {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
			}
			t.prefixes = append(t.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
		}
		addr = addr.Unmap()
		t.prefixes = append(t.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return t, nil
}

// Trusts reports whether addr is a configured proxy
func (t *ProxyTrust) Trusts(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddress returns the caller's host without the port. Behind a trusted
// proxy it walks X-Forwarded-For from the right and returns the first hop that
// is not itself a trusted proxy, falling back to X-Real-IP.
func (t *ProxyTrust) ClientAddress(r *http.Request) string {
	peer := ClientAddress(r)
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !t.Trusts(peerAddr) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		client := ""
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = hop.Unmap().String()
			if !t.Trusts(hop) {
				return client
			}
		}
		if client != "" {
			return client
		}
	}

	if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return ip.Unmap().String()
	}
	return peer
}

// ClientAddress returns the socket peer's host without the port.
// Forwarding headers are ignored; see ProxyTrust for deployments behind a proxy.
func ClientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
