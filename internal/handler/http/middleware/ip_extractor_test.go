package middleware

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"routelimit/pkg/ratelimit"
)

func trustedConfig() TrustedProxyConfig {
	return TrustedProxyConfig{
		Enabled:      true,
		AllowedCIDRs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	}
}

// TestRemoteAddrExtractor_ExtractsIP tests RemoteAddrExtractor
// correctly extracts IP from "IP:port" format
func TestRemoteAddrExtractor_ExtractsIP(t *testing.T) {
	extractor := &RemoteAddrExtractor{}

	testCases := []struct {
		name       string
		remoteAddr string
		expected   string
	}{
		{"IPv4 with port", "192.168.1.1:54321", "192.168.1.1"},
		{"IPv4 without port", "127.0.0.1", "127.0.0.1"},
		{"IPv6 with port", "[2001:db8::1]:8080", "2001:db8::1"},
		{"IPv6 loopback without port", "[::1]", "::1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr

			ip, err := extractor.ExtractIP(req)
			if err != nil {
				t.Fatalf("ExtractIP() returned unexpected error: %v", err)
			}
			if ip != tc.expected {
				t.Errorf("ExtractIP() = %q, expected %q", ip, tc.expected)
			}
		})
	}
}

func TestRemoteAddrExtractor_InvalidAddr(t *testing.T) {
	for _, addr := range []string{"", "garbage", "host.example:80"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr

		if ip, err := (&RemoteAddrExtractor{}).ExtractIP(req); err == nil {
			t.Errorf("ExtractIP(%q) = %q, want error", addr, ip)
		}
	}
}

func TestTrustedProxyExtractor_ExtractIP(t *testing.T) {
	testCases := []struct {
		name       string
		config     TrustedProxyConfig
		remoteAddr string
		xff        string
		xRealIP    string
		expected   string
	}{
		{
			name:       "trusted proxy uses X-Forwarded-For",
			config:     trustedConfig(),
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.5",
			expected:   "203.0.113.5",
		},
		{
			name:       "first X-Forwarded-For entry wins",
			config:     trustedConfig(),
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.5, 10.0.0.2, 10.0.0.3",
			expected:   "203.0.113.5",
		},
		{
			name:       "X-Forwarded-For takes priority over X-Real-IP",
			config:     trustedConfig(),
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.5",
			xRealIP:    "198.51.100.7",
			expected:   "203.0.113.5",
		},
		{
			name:       "X-Real-IP fallback",
			config:     trustedConfig(),
			remoteAddr: "10.0.0.1:1234",
			xRealIP:    "198.51.100.7",
			expected:   "198.51.100.7",
		},
		{
			name:       "invalid X-Forwarded-For falls through to X-Real-IP",
			config:     trustedConfig(),
			remoteAddr: "10.0.0.1:1234",
			xff:        "unknown, 10.0.0.2",
			xRealIP:    "198.51.100.7",
			expected:   "198.51.100.7",
		},
		{
			name:       "IPv6 header",
			config:     trustedConfig(),
			remoteAddr: "10.0.0.1:1234",
			xff:        "2001:db8::42",
			expected:   "2001:db8::42",
		},
		{
			name:       "no headers falls back to RemoteAddr",
			config:     trustedConfig(),
			remoteAddr: "10.0.0.1:1234",
			expected:   "10.0.0.1",
		},
		{
			name:       "untrusted peer headers are ignored",
			config:     trustedConfig(),
			remoteAddr: "192.168.1.1:1234",
			xff:        "203.0.113.5",
			xRealIP:    "198.51.100.7",
			expected:   "192.168.1.1",
		},
		{
			name:       "disabled config ignores headers",
			config:     TrustedProxyConfig{AllowedCIDRs: trustedConfig().AllowedCIDRs},
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.5",
			expected:   "10.0.0.1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xRealIP != "" {
				req.Header.Set("X-Real-IP", tc.xRealIP)
			}

			ip, err := NewTrustedProxyExtractor(tc.config).ExtractIP(req)
			if err != nil {
				t.Fatalf("ExtractIP() returned unexpected error: %v", err)
			}
			if ip != tc.expected {
				t.Errorf("ExtractIP() = %q, expected %q", ip, tc.expected)
			}
		})
	}
}

func TestParseFirstIP_EdgeCases(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"192.168.1.1", "192.168.1.1"},
		{"192.168.1.1, 10.0.0.1", "192.168.1.1"},
		{" 2001:db8::1 ,10.0.0.1", "2001:db8::1"},
		{"invalid, 10.0.0.1", ""},
		{"", ""},
	}

	for _, tc := range testCases {
		if got := parseFirstIP(tc.input); got != tc.expected {
			t.Errorf("parseFirstIP(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}

func TestKeyByTrustedIP(t *testing.T) {
	deriver := KeyByTrustedIP(NewTrustedProxyExtractor(trustedConfig()))

	t.Run("trusted proxy", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/items", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", "203.0.113.5")

		out := deriver.DeriveKey(req)
		if !out.Success || out.Source != "ip" || out.RawKey != "203.0.113.5" {
			t.Errorf("DeriveKey() = %+v, want ip:203.0.113.5", out)
		}
		if out.Metadata["ip"] != "203.0.113.5" {
			t.Errorf("metadata ip = %v, want 203.0.113.5", out.Metadata["ip"])
		}
	})

	t.Run("spoofed header from untrusted peer", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/items", nil)
		req.RemoteAddr = "198.51.100.9:1234"
		req.Header.Set("X-Forwarded-For", "203.0.113.5")

		out := deriver.DeriveKey(req)
		if !out.Success || out.RawKey != "198.51.100.9" {
			t.Errorf("DeriveKey() = %+v, want the peer address", out)
		}
	})

	t.Run("unusable address fails", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/items", nil)
		req.RemoteAddr = "pipe"

		out := deriver.DeriveKey(req)
		if out.Success {
			t.Errorf("DeriveKey() = %+v, want failure", out)
		}
	})

	t.Run("resolves through the key chain", func(t *testing.T) {
		resolver := ratelimit.NewKeyResolver(ratelimit.NewKeyChainRegistry(deriver), nil)
		req := httptest.NewRequest("GET", "/api/items", nil)
		req.RemoteAddr = "[2001:db8::1]:443"

		key, ok, err := resolver.Resolve(req)
		if err != nil || !ok {
			t.Fatalf("Resolve() ok=%v err=%v", ok, err)
		}
		if key.Key != "ip:2001%3Adb8%3A%3A1" {
			t.Errorf("Resolve() key = %q", key.Key)
		}
	})
}
