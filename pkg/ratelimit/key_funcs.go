package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// unknownAddress is used when no client address can be determined at all.
const unknownAddress = "::"

// KeyByIP keys requests by the first X-Forwarded-For address.
//
// It always succeeds and records the address as the "ip" metadata. Without the header it falls back to the connection
// address (or "::"); with several forwarded addresses it takes the first.
// Both cases are logged as warnings, throttled to avoid flooding the log,
// because forwarded headers are only trustworthy behind a known proxy.
func KeyByIP() KeyDeriver {
	warnings := &rate.Sometimes{First: 5, Interval: time.Minute}

	return KeyFunc(func(r *http.Request) KeyOutcome {
		addrs := forwardedAddrs(r.Header.Values("X-Forwarded-For"))

		switch {
		case len(addrs) == 0:
			addr := remoteHost(r.RemoteAddr)
			warnings.Do(func() {
				slog.Warn("no X-Forwarded-For header, falling back to remote address",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("key", addr))
			})
			return KeySuccess("ip", addr, map[string]any{"ip": addr})
		case len(addrs) > 1:
			warnings.Do(func() {
				slog.Warn("multiple X-Forwarded-For addresses, using the first",
					slog.Any("addresses", addrs))
			})
		}
		return KeySuccess("ip", addrs[0], map[string]any{"ip": addrs[0]})
	})
}

// KeyByPath keys requests by their normalized path.
func KeyByPath() KeyDeriver {
	return KeyFunc(func(r *http.Request) KeyOutcome {
		return KeySuccess("path", NormalizePath(r.URL.Path), nil)
	})
}

// KeyByHeader keys requests by the value of a header. It fails when the
// header is missing or empty.
func KeyByHeader(name string) KeyDeriver {
	source := "header." + strings.ToLower(name)
	return KeyFunc(func(r *http.Request) KeyOutcome {
		value := strings.TrimSpace(r.Header.Get(name))
		if value == "" {
			return KeyFailure(source, "header not present")
		}
		return KeySuccess(source, value, nil)
	})
}

func forwardedAddrs(values []string) []string {
	var addrs []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				addrs = append(addrs, part)
			}
		}
	}
	return addrs
}

func remoteHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	if ip := net.ParseIP(remoteAddr); ip != nil {
		return ip.String()
	}
	return unknownAddress
}
