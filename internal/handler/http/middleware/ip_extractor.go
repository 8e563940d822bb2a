package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"routelimit/pkg/config"
	"routelimit/pkg/ratelimit"
)

// IPExtractor extracts the client IP address from a request.
type IPExtractor interface {
	ExtractIP(r *http.Request) (string, error)
}

// RemoteAddrExtractor uses the TCP peer address, which the client cannot
// spoof. Use it when the gateway is not behind a reverse proxy.
type RemoteAddrExtractor struct{}

// ExtractIP strips the port from r.RemoteAddr.
//
// Examples:
//   - "192.168.1.1:54321" → "192.168.1.1"
//   - "[2001:db8::1]:8080" → "2001:db8::1"
//   - "127.0.0.1" → "127.0.0.1" (no port)
func (e *RemoteAddrExtractor) ExtractIP(r *http.Request) (string, error) {
	return extractIPFromAddr(r.RemoteAddr)
}

// TrustedProxyConfig lists the reverse proxies whose forwarding headers are
// believed.
type TrustedProxyConfig struct {
	// Enabled turns header-based extraction on. When false only RemoteAddr
	// is used.
	Enabled bool

	// AllowedCIDRs are the trusted proxy ranges. Single IPs are stored as
	// /32 or /128 prefixes.
	AllowedCIDRs []netip.Prefix
}

// IsTrusted reports whether remoteAddr belongs to a trusted proxy.
func (c *TrustedProxyConfig) IsTrusted(remoteAddr string) bool {
	ip, err := extractIPFromAddr(remoteAddr)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range c.AllowedCIDRs {
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// LoadTrustedProxyConfig loads trusted proxy configuration from environment variables.
//
// Environment Variables:
//   - RATELIMIT_TRUST_PROXY: "true" enables proxy trust (default: false)
//   - RATELIMIT_TRUSTED_PROXIES: comma-separated IPs or CIDR ranges
//
// Fail-closed: enabling trust without a valid proxy list is an error that
// must stop startup.
func LoadTrustedProxyConfig() (*TrustedProxyConfig, error) {
	cfg := &TrustedProxyConfig{
		Enabled: config.GetEnvBool("RATELIMIT_TRUST_PROXY", false),
	}
	if !cfg.Enabled {
		return cfg, nil
	}

	proxies := config.GetEnvStringList("RATELIMIT_TRUSTED_PROXIES", nil)
	if len(proxies) == 0 {
		return nil, fmt.Errorf("RATELIMIT_TRUST_PROXY is enabled but RATELIMIT_TRUSTED_PROXIES is empty")
	}

	prefixes, err := ParseTrustedProxies(proxies)
	if err != nil {
		return nil, err
	}
	cfg.AllowedCIDRs = prefixes
	return cfg, nil
}

// ParseTrustedProxies parses IPs and CIDR ranges. Empty elements are
// skipped.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		prefix, err := netip.ParsePrefix(v)
		if err != nil {
			ip, ipErr := netip.ParseAddr(v)
			if ipErr != nil {
				return nil, fmt.Errorf("invalid IP or CIDR format '%s': must be valid IP address or CIDR notation (e.g., '192.168.1.1' or '10.0.0.0/8')", v)
			}
			prefix = netip.PrefixFrom(ip, ip.BitLen())
		}
		prefixes = append(prefixes, prefix.Masked())
	}

	if len(prefixes) == 0 {
		return nil, fmt.Errorf("no valid trusted proxies found")
	}
	return prefixes, nil
}

// TrustedProxyExtractor reads X-Forwarded-For, then X-Real-IP, but only
// when the peer is a trusted proxy. Otherwise it uses RemoteAddr so a
// client cannot rotate its rate limit identity by forging headers.
type TrustedProxyExtractor struct {
	config TrustedProxyConfig
}

// NewTrustedProxyExtractor creates a new TrustedProxyExtractor with the given configuration.
func NewTrustedProxyExtractor(config TrustedProxyConfig) *TrustedProxyExtractor {
	return &TrustedProxyExtractor{config: config}
}

// ExtractIP returns the client address.
func (e *TrustedProxyExtractor) ExtractIP(r *http.Request) (string, error) {
	if !e.config.Enabled {
		return extractIPFromAddr(r.RemoteAddr)
	}

	if !e.config.IsTrusted(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			slog.Warn("untrusted proxy attempting to set X-Forwarded-For",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("x_forwarded_for", xff),
			)
		}
		return extractIPFromAddr(r.RemoteAddr)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := parseFirstIP(xff); ip != "" {
			return ip, nil
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String(), nil
		}
	}
	return extractIPFromAddr(r.RemoteAddr)
}

// KeyByTrustedIP keys requests by the address extractor returns. It fails,
// leaving the decision to the next key function or the no-key policy, when
// no address can be extracted.
func KeyByTrustedIP(extractor IPExtractor) ratelimit.KeyDeriver {
	return ratelimit.KeyFunc(func(r *http.Request) ratelimit.KeyOutcome {
		ip, err := extractor.ExtractIP(r)
		if err != nil {
			return ratelimit.KeyFailure("ip", err.Error())
		}
		return ratelimit.KeySuccess("ip", ip, map[string]any{"ip": ip})
	})
}

// extractIPFromAddr extracts the IP from a "host:port" or bare IP string.
func extractIPFromAddr(addr string) (string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		if ip := net.ParseIP(strings.Trim(addr, "[]")); ip != nil {
			return ip.String(), nil
		}
		return "", fmt.Errorf("invalid address format: %s", addr)
	}
	if net.ParseIP(host) == nil {
		return "", fmt.Errorf("invalid address format: %s", addr)
	}
	return host, nil
}

// parseFirstIP returns the first entry of an X-Forwarded-For list
// ("client, proxy1, proxy2") if it is a valid IP, or "".
func parseFirstIP(s string) string {
	first, _, _ := strings.Cut(s, ",")
	if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
		return ip.String()
	}
	return ""
}
