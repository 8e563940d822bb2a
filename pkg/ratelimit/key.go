package ratelimit

import (
	"net/http"
	"strings"
)

// keySeparator joins the parts of a resolved key.
const keySeparator = ":"

var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// EscapeKey neutralizes the key separator in raw key material.
// The mapping is injective, so distinct raw keys never collide.
func EscapeKey(raw string) string {
	return keyEscaper.Replace(raw)
}

// KeyOutcome is the result of one key function.
type KeyOutcome struct {
	Success  bool
	Source   string
	RawKey   string
	Metadata map[string]any

	// Reason explains a failure. It is only used for logging.
	Reason string

	preEscaped bool
	composite  bool
}

// KeySuccess builds a successful outcome.
func KeySuccess(source, rawKey string, metadata map[string]any) KeyOutcome {
	return KeyOutcome{Success: true, Source: source, RawKey: rawKey, Metadata: metadata}
}

// KeyFailure builds a failed outcome. A failure is the normal way for a key
// function to say it does not apply to a request.
func KeyFailure(source, reason string) KeyOutcome {
	return KeyOutcome{Source: source, Reason: reason}
}

// namespaced returns "source:escapedRawKey", or the composite key verbatim.
func (o KeyOutcome) namespaced() string {
	if o.composite {
		return o.RawKey
	}
	raw := o.RawKey
	if !o.preEscaped {
		raw = EscapeKey(raw)
	}
	return o.Source + keySeparator + raw
}

// KeyDeriver derives an identity for a request.
//
// Implementations must not panic or block indefinitely when the identity is
// simply unavailable; they return a failed KeyOutcome instead. They must
// not mutate shared state other than their own logging or metrics.
type KeyDeriver interface {
	DeriveKey(r *http.Request) KeyOutcome
}

// KeyFunc adapts a plain function to KeyDeriver.
type KeyFunc func(r *http.Request) KeyOutcome

// DeriveKey calls f(r).
func (f KeyFunc) DeriveKey(r *http.Request) KeyOutcome {
	return f(r)
}

// PreEscaped marks d as producing raw keys that are already safe to embed,
// for example percent-encoded values. Their keys are used verbatim.
func PreEscaped(d KeyDeriver) KeyDeriver {
	return preEscapedDeriver{d}
}

type preEscapedDeriver struct {
	KeyDeriver
}

func (p preEscapedDeriver) DeriveKey(r *http.Request) KeyOutcome {
	out := p.KeyDeriver.DeriveKey(r)
	out.preEscaped = true
	return out
}

// ResolvedKey is the final identity of a request.
type ResolvedKey struct {
	// Key is "source:escapedRawKey", or for combined keys the colon-joined
	// concatenation of each contributor's namespaced key.
	Key string

	// Metadata is the merged metadata of the contributing key functions.
	Metadata map[string]any
}

// StorageKey returns the key under which the counter is stored. A client
// has one counter shared by every route it is limited on.
func (k ResolvedKey) StorageKey() string {
	return DataNamespace + keySeparator + k.Key
}
