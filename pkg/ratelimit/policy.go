package ratelimit

import (
	"fmt"
	"strings"
)

// NoKeyPolicy selects what happens when no key function produced a key.
type NoKeyPolicy string

const (
	// NoKeyBlock denies the request.
	NoKeyBlock NoKeyPolicy = "block"
	// NoKeyAllow lets the request through unlimited.
	NoKeyAllow NoKeyPolicy = "allow"
	// NoKeyWarn logs a warning and then behaves like NoKeyAllow.
	NoKeyWarn NoKeyPolicy = "warn"
)

// ParseNoKeyPolicy parses a policy name, case-insensitively.
// An empty string yields the default, NoKeyWarn.
func ParseNoKeyPolicy(s string) (NoKeyPolicy, error) {
	switch p := NoKeyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return NoKeyWarn, nil
	case NoKeyBlock, NoKeyAllow, NoKeyWarn:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q (want block, allow or warn)", ErrInvalidPolicy, s)
	}
}

// IsValid reports whether p is a known policy.
func (p NoKeyPolicy) IsValid() bool {
	switch p {
	case NoKeyBlock, NoKeyAllow, NoKeyWarn:
		return true
	default:
		return false
	}
}

func (p NoKeyPolicy) String() string {
	return string(p)
}
