package ratelimit

import (
	"fmt"
	"path"
	"strings"
)

const (
	wildcardSegment = "*"
	greedySegment   = "**"
)

// RouteTrie maps route patterns to values and matches request paths
// against them, one path segment per level.
//
// Pattern syntax:
//   - literal segments ("/api/users")
//   - "*" or ":name" matches exactly one segment ("/api/users/:id")
//   - "**" as the last segment matches zero or more segments ("/api/**")
//
// When several patterns match, the most specific one wins: at every segment
// a literal beats a single-segment wildcard, which beats a greedy tail.
//
// A RouteTrie is not safe for concurrent mutation; build it once and share
// it read-only.
type RouteTrie[V any] struct {
	root *trieNode[V]
	size int
}

type trieNode[V any] struct {
	literal map[string]*trieNode[V]
	single  *trieNode[V]
	greedy  *trieNode[V]

	pattern  string
	value    V
	hasValue bool
}

// NewRouteTrie creates an empty trie.
func NewRouteTrie[V any]() *RouteTrie[V] {
	return &RouteTrie[V]{root: &trieNode[V]{}}
}

// Insert binds value to pattern, replacing any previous value for the
// same pattern.
func (t *RouteTrie[V]) Insert(pattern string, value V) error {
	segments, err := parsePattern(pattern)
	if err != nil {
		return err
	}

	node := t.root
	for _, seg := range segments {
		switch {
		case seg == greedySegment:
			if node.greedy == nil {
				node.greedy = &trieNode[V]{}
			}
			node = node.greedy
		case seg == wildcardSegment || strings.HasPrefix(seg, ":"):
			if node.single == nil {
				node.single = &trieNode[V]{}
			}
			node = node.single
		default:
			if node.literal == nil {
				node.literal = make(map[string]*trieNode[V])
			}
			child, ok := node.literal[seg]
			if !ok {
				child = &trieNode[V]{}
				node.literal[seg] = child
			}
			node = child
		}
	}

	if !node.hasValue {
		t.size++
	}
	node.pattern = "/" + strings.Join(segments, "/")
	node.value = value
	node.hasValue = true
	return nil
}

// Lookup returns the value of the most specific pattern matching path,
// along with that pattern.
func (t *RouteTrie[V]) Lookup(requestPath string) (value V, pattern string, ok bool) {
	if t == nil || t.size == 0 {
		return value, "", false
	}
	node := t.root.match(splitPath(NormalizePath(requestPath)), 0)
	if node == nil {
		return value, "", false
	}
	return node.value, node.pattern, true
}

// Len returns the number of patterns stored.
func (t *RouteTrie[V]) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

func (n *trieNode[V]) match(segments []string, i int) *trieNode[V] {
	if i == len(segments) {
		if n.hasValue {
			return n
		}
		if n.greedy != nil && n.greedy.hasValue {
			return n.greedy
		}
		return nil
	}

	if child, ok := n.literal[segments[i]]; ok {
		if found := child.match(segments, i+1); found != nil {
			return found
		}
	}
	if n.single != nil {
		if found := n.single.match(segments, i+1); found != nil {
			return found
		}
	}
	if n.greedy != nil && n.greedy.hasValue {
		return n.greedy
	}
	return nil
}

// NormalizePath strips the query string, cleans the path and removes any
// trailing slash, so "/api/users/?page=2" and "/api//users" both become
// "/api/users".
func NormalizePath(p string) string {
	if idx := strings.IndexByte(p, '?'); idx != -1 {
		p = p[:idx]
	}
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func parsePattern(pattern string) ([]string, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPattern, pattern)
	}
	segments := splitPath(path.Clean(pattern))
	for i, seg := range segments {
		if seg == greedySegment && i != len(segments)-1 {
			return nil, fmt.Errorf("%w: %q uses '**' before the last segment", ErrInvalidPattern, pattern)
		}
		if seg == ":" {
			return nil, fmt.Errorf("%w: %q has an unnamed parameter", ErrInvalidPattern, pattern)
		}
	}
	return segments, nil
}
