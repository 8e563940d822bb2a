// Package auth derives rate limit identities from JWTs.
//
// The gateway does not authenticate requests; the upstream does. A token
// is only read to decide whose counter a request is charged to, so an
// invalid token simply makes the key function fail and the next function
// in the chain is tried.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"routelimit/pkg/ratelimit"
)

const (
	// DefaultCookieName is the cookie read when no bearer token is sent.
	DefaultCookieName = "token"

	// minSecretLength is the minimum HS256 secret length.
	minSecretLength = 32

	keySource = "jwt"
)

// JWTKeyConfig configures KeyByJWT.
type JWTKeyConfig struct {
	// Secret verifies HS256 signatures.
	Secret []byte

	// CookieName is read when the Authorization header carries no bearer
	// token. Default: "token"
	CookieName string

	// MetadataClaims are copied into the key metadata, where rule
	// overrides can read them. Default: role and tier.
	MetadataClaims []string

	// Leeway tolerates clock skew when checking exp and nbf.
	Leeway time.Duration
}

// KeyByJWT keys requests by the sub claim of an HS256 token.
//
// The token comes from the Authorization header ("Bearer <token>") or,
// failing that, from the configured cookie. Tokens without exp are
// rejected. A short secret is a configuration fault.
func KeyByJWT(cfg JWTKeyConfig) (ratelimit.KeyDeriver, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("%w: JWT secret must be at least %d bytes", ratelimit.ErrConfiguration, minSecretLength)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.MetadataClaims == nil {
		cfg.MetadataClaims = []string{"role", "tier"}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.Secret, nil }

	return ratelimit.KeyFunc(func(r *http.Request) ratelimit.KeyOutcome {
		tokenString := tokenFromRequest(r, cfg.CookieName)
		if tokenString == "" {
			RecordJWTKeyResult("missing")
			return ratelimit.KeyFailure(keySource, "no token")
		}

		token, err := parser.Parse(tokenString, keyFunc)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				RecordJWTKeyResult("expired")
				return ratelimit.KeyFailure(keySource, "token expired")
			}
			RecordJWTKeyResult("invalid")
			return ratelimit.KeyFailure(keySource, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			RecordJWTKeyResult("invalid")
			return ratelimit.KeyFailure(keySource, "invalid claims")
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			RecordJWTKeyResult("invalid")
			return ratelimit.KeyFailure(keySource, "invalid sub claim")
		}

		RecordJWTKeyResult("valid")
		return ratelimit.KeySuccess(keySource, sub, metadata(claims, cfg.MetadataClaims))
	}), nil
}

// tokenFromRequest returns the bearer token, or the cookie value.
func tokenFromRequest(r *http.Request, cookieName string) string {
	const prefix = "bearer "
	if authz := r.Header.Get("Authorization"); len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return strings.TrimSpace(authz[len(prefix):])
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// metadata copies the named string claims.
func metadata(claims jwt.MapClaims, names []string) map[string]any {
	var md map[string]any
	for _, name := range names {
		v, ok := claims[name].(string)
		if !ok || v == "" {
			continue
		}
		if md == nil {
			md = make(map[string]any, len(names))
		}
		md[name] = v
	}
	return md
}
