package main

import (
	"fmt"
	"log/slog"
	"strings"

	"routelimit/internal/handler/http/auth"
	"routelimit/internal/handler/http/middleware"
	"routelimit/pkg/config"
	"routelimit/pkg/ratelimit"
)

// keyFactory builds key functions from their configured names:
//
//	ip           client address, proxy headers first (KeyByIP)
//	trusted-ip   client address, proxy headers only from trusted proxies
//	path         normalized request path
//	jwt          sub claim of an HS256 token (needs JWT_SECRET)
//	header:Name  value of request header Name
//	a+b          composite key of a and b (Combine)
type keyFactory struct {
	jwtSecret string
	logger    *slog.Logger

	jwt       ratelimit.KeyDeriver
	trustedIP ratelimit.KeyDeriver
}

func (f *keyFactory) build(name string) (ratelimit.KeyDeriver, error) {
	if parts := strings.Split(name, "+"); len(parts) > 1 {
		derivers := make([]ratelimit.KeyDeriver, 0, len(parts))
		for _, part := range parts {
			d, err := f.build(part)
			if err != nil {
				return nil, err
			}
			derivers = append(derivers, d)
		}
		return ratelimit.Combine(derivers...), nil
	}

	name = strings.TrimSpace(name)
	if header, ok := strings.CutPrefix(name, "header:"); ok {
		if header == "" {
			return nil, fmt.Errorf("%w: key function %q names no header", ratelimit.ErrConfiguration, name)
		}
		return ratelimit.KeyByHeader(header), nil
	}

	switch name {
	case "ip":
		return ratelimit.KeyByIP(), nil
	case "path":
		return ratelimit.KeyByPath(), nil
	case "trusted-ip":
		return f.trustedIPKey()
	case "jwt":
		return f.jwtKey()
	default:
		return nil, fmt.Errorf("%w: unknown key function %q", ratelimit.ErrConfiguration, name)
	}
}

func (f *keyFactory) chain(names []string) ([]ratelimit.KeyDeriver, error) {
	derivers := make([]ratelimit.KeyDeriver, 0, len(names))
	for _, name := range names {
		d, err := f.build(name)
		if err != nil {
			return nil, err
		}
		derivers = append(derivers, d)
	}
	return derivers, nil
}

func (f *keyFactory) jwtKey() (ratelimit.KeyDeriver, error) {
	if f.jwt != nil {
		return f.jwt, nil
	}
	if f.jwtSecret == "" {
		return nil, fmt.Errorf("%w: key function jwt requires JWT_SECRET", ratelimit.ErrConfiguration)
	}
	d, err := auth.KeyByJWT(auth.JWTKeyConfig{Secret: []byte(f.jwtSecret)})
	if err != nil {
		return nil, err
	}
	f.jwt = d
	return d, nil
}

func (f *keyFactory) trustedIPKey() (ratelimit.KeyDeriver, error) {
	if f.trustedIP != nil {
		return f.trustedIP, nil
	}
	proxyConfig, err := middleware.LoadTrustedProxyConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ratelimit.ErrConfiguration, err)
	}

	var extractor middleware.IPExtractor = &middleware.RemoteAddrExtractor{}
	if proxyConfig.Enabled {
		extractor = middleware.NewTrustedProxyExtractor(*proxyConfig)
		f.logger.Info("rate limiting: trusted proxy mode enabled",
			slog.Int("trusted_proxies_count", len(proxyConfig.AllowedCIDRs)))
	} else {
		f.logger.Info("rate limiting: using RemoteAddr (proxy headers ignored)")
	}

	f.trustedIP = middleware.KeyByTrustedIP(extractor)
	return f.trustedIP, nil
}

// buildKeys builds the fallback and per-route key chains.
func buildKeys(settings *config.RateLimitSettings, jwtSecret string, logger *slog.Logger) (*ratelimit.KeyChainRegistry, error) {
	f := &keyFactory{jwtSecret: jwtSecret, logger: logger}

	fallback, err := f.chain(settings.Keys.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback key chain: %w", err)
	}
	registry := ratelimit.NewKeyChainRegistry(fallback...)

	for pattern, names := range settings.Keys.Routes {
		chain, err := f.chain(names)
		if err != nil {
			return nil, fmt.Errorf("key chain for %q: %w", pattern, err)
		}
		if err := registry.Register(pattern, chain...); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildOverrides registers the tier override on the default route when
// tiers are configured. The tier is read from the key metadata, which the
// jwt key function fills from the tier claim.
func buildOverrides(settings *config.RateLimitSettings, logger *slog.Logger) (*ratelimit.OverrideRegistry, error) {
	overrides := ratelimit.NewOverrideRegistry(logger)
	if len(settings.Tiers) == 0 {
		return overrides, nil
	}
	if err := overrides.Register("/**", ratelimit.TierOverride("tier", settings.Tiers)); err != nil {
		return nil, err
	}
	return overrides, nil
}
