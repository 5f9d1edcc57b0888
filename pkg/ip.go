package pkg

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPReader finds the address of the client behind a request. X-Real-Ip and
// X-Forwarded-For are only honored when the direct peer is one of the trusted proxies,
// otherwise any client could pick its own address.
type ClientIPReader struct {
	trustedProxies []*net.IPNet
}

// NewClientIPReader accepts proxy addresses as CIDRs or single IPs.
func NewClientIPReader(trustedProxies []string) (*ClientIPReader, error) {
	reader := &ClientIPReader{}
	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		if !strings.Contains(proxy, "/") {
			ip := net.ParseIP(proxy)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy address: %q", proxy)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			proxy = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, network, err := net.ParseCIDR(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy cidr %q: %w", proxy, err)
		}
		reader.trustedProxies = append(reader.trustedProxies, network)
	}
	return reader, nil
}

func (c *ClientIPReader) trusted(ip net.IP) bool {
	for _, network := range c.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Read returns the client IP, "localhost" for loopback clients.
func (c *ClientIPReader) Read(r *http.Request) (string, error) {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	peerIP := net.ParseIP(peer)
	if peerIP == nil {
		return "", fmt.Errorf("ip addr %s is invalid", r.RemoteAddr)
	}

	clientIP := peerIP
	if c.trusted(peerIP) {
		clientIP = c.forwardedClient(r, peerIP)
	}

	if clientIP.IsLoopback() {
		return "localhost", nil
	}
	return clientIP.String(), nil
}

// forwardedClient walks X-Forwarded-For from the right, skipping trusted hops; the first
// untrusted address is the client. X-Real-Ip, set by the proxy itself, is used when present.
func (c *ClientIPReader) forwardedClient(r *http.Request, peerIP net.IP) net.IP {
	if realIP := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); realIP != nil {
		return realIP
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := net.ParseIP(strings.TrimSpace(hops[i]))
		if hop == nil {
			// anything left of a garbage entry is client controlled
			break
		}
		if !c.trusted(hop) {
			return hop
		}
	}
	return peerIP
}
