// Package glob implements the wildcard matching used for method
// allow/block lists. Patterns are literal strings except for '*', which
// matches any substring (including the empty one) at that position.
// Matching is case-sensitive and anchored to the full name.
package glob

import (
	"regexp"
	"strings"
	"sync"
)

var (
	cacheMu sync.RWMutex
	cache   = map[string]*regexp.Regexp{}
)

// compile turns a pattern into an anchored regexp, escaping everything
// except '*'. Compiled patterns are cached; config pattern lists are
// small and static, so the cache never needs eviction.
func compile(pattern string) *regexp.Regexp {
	cacheMu.RLock()
	re, ok := cache[pattern]
	cacheMu.RUnlock()
	if ok {
		return re
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re = regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")

	cacheMu.Lock()
	cache[pattern] = re
	cacheMu.Unlock()
	return re
}

// Match reports whether name matches pattern.
func Match(pattern, name string) bool {
	// Fast path: no wildcard means plain equality.
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}
	return compile(pattern).MatchString(name)
}

// MatchAny reports whether name matches any of the given patterns.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if Match(p, name) {
			return true
		}
	}
	return false
}
