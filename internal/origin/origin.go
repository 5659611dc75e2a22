// Package origin decides whether a message sender's origin is on a channel's allow-list.
// file: internal/origin/origin.go
package origin

import (
	"net/url"
	"strings"
)

const schemeSep = "://"

// IsAllowed reports whether origin matches any of patterns.
//
// An empty pattern list allows every origin. Supported patterns are an exact origin,
// "*.domain" (origin equals domain or ends with ".domain") and "scheme://*.domain" (the
// origin must carry that scheme and its remainder satisfies the "*.domain" rule). Any
// other wildcard placement never matches.
func IsAllowed(origin string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matches(origin, p) {
			return true
		}
	}
	return false
}

func matches(origin, pattern string) bool {
	if origin == pattern {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return matchesDomain(origin, suffix)
	}
	scheme, rest, ok := strings.Cut(pattern, schemeSep)
	if !ok || scheme == "" {
		return false
	}
	suffix, ok := strings.CutPrefix(rest, "*.")
	if !ok {
		return false
	}
	remainder, ok := strings.CutPrefix(origin, scheme+schemeSep)
	if !ok {
		return false
	}
	return matchesDomain(remainder, suffix)
}

// matchesDomain applies the "*.D" rule: s is exactly D or ends with ".D". A plain suffix
// check would let "evilD" through.
func matchesDomain(s, domain string) bool {
	if domain == "" || strings.Contains(domain, "*") {
		return false
	}
	return s == domain || strings.HasSuffix(s, "."+domain)
}

// AllowList is an immutable, ordered set of origin patterns.
type AllowList struct {
	patterns []string
}

// NewAllowList copies patterns into a new AllowList.
func NewAllowList(patterns []string) AllowList {
	if len(patterns) == 0 {
		return AllowList{}
	}
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	return AllowList{patterns: cp}
}

// Allows reports whether origin is accepted by the list.
func (a AllowList) Allows(origin string) bool {
	return IsAllowed(origin, a.patterns)
}

// Patterns returns a copy of the configured patterns.
func (a AllowList) Patterns() []string {
	cp := make([]string, len(a.patterns))
	copy(cp, a.patterns)
	return cp
}

// AllowsAll reports whether the list is empty and therefore admits every origin.
func (a AllowList) AllowsAll() bool {
	return len(a.patterns) == 0
}

// Normalize lower-cases the scheme and host of an origin and drops any path.
// It returns false when raw is not a scheme://host origin.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + schemeSep + strings.ToLower(parsed.Host), true
}

// ValidPattern reports whether p is a pattern IsAllowed can ever match.
func ValidPattern(p string) bool {
	if p == "" {
		return false
	}
	if suffix, ok := strings.CutPrefix(p, "*."); ok {
		return suffix != "" && !strings.Contains(suffix, "*")
	}
	if scheme, rest, ok := strings.Cut(p, schemeSep); ok && scheme != "" {
		if suffix, ok := strings.CutPrefix(rest, "*."); ok {
			return suffix != "" && !strings.Contains(suffix, "*")
		}
	}
	return !strings.Contains(p, "*")
}
