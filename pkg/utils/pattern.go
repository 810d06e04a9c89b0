// Package utils provides pattern matching utilities for URL paths and cache keys.
//
// This file implements the matching used by the invalidation resource table:
//   - Exact match: "/profile" matches only "/profile"
//   - Prefix match: "/recurring*" matches "/recurring", "/recurring/42", "/recurring?x=1"
//   - Wildcard: "/users/*/recurring" matches "/users/42/recurring"
//   - Single character: "?" matches exactly one character
//
// Design Notes:
//   - Prefix matching is the fast path (most table entries are prefixes)
//   - Other globs compile to anchored regexes, cached in a sync.Map
//   - Regex metacharacters in patterns are escaped, so "." in a path is literal
package utils

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// regexCache caches compiled glob regexes.
// Key: glob pattern, Value: *regexp.Regexp
//
// The resource table is fixed, so the cache stays small.
var regexCache sync.Map

// MatchPattern reports whether key matches the glob pattern.
//
// Returns an error only for an empty pattern.
func MatchPattern(pattern, key string) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("pattern cannot be empty")
	}

	if pattern == key {
		return true, nil
	}

	if pattern == "*" {
		return true, nil
	}

	// Trailing-star with no other wildcard: plain prefix
	if isPrefixPattern(pattern) {
		return strings.HasPrefix(key, pattern[:len(pattern)-1]), nil
	}

	if !strings.ContainsAny(pattern, "*?") {
		return false, nil
	}

	cached, ok := regexCache.Load(pattern)
	var re *regexp.Regexp
	if ok {
		re = cached.(*regexp.Regexp)
	} else {
		var err error
		re, err = regexp.Compile("^" + globToRegex(pattern) + "$")
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		regexCache.Store(pattern, re)
	}

	return re.MatchString(key), nil
}

// PrefixMatch returns true if key starts with prefix.
func PrefixMatch(prefix, key string) bool {
	return strings.HasPrefix(key, prefix)
}

func isPrefixPattern(pattern string) bool {
	if !strings.HasSuffix(pattern, "*") {
		return false
	}
	head := pattern[:len(pattern)-1]
	return !strings.ContainsAny(head, "*?")
}

// globToRegex converts a glob pattern to regex.
//
// Example: "/users/*/recurring" -> "/users/.*/recurring"
func globToRegex(pattern string) string {
	var result strings.Builder
	result.Grow(len(pattern) * 2)

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			result.WriteString(".*")
		case '?':
			result.WriteString(".")
		case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
			result.WriteByte('\\')
			result.WriteByte(ch)
		default:
			result.WriteByte(ch)
		}
	}

	return result.String()
}

// ClearRegexCache clears the compiled regex cache.
func ClearRegexCache() {
	regexCache.Range(func(key, value interface{}) bool {
		regexCache.Delete(key)
		return true
	})
}

// RegexCacheSize returns the number of cached compiled regexes.
func RegexCacheSize() int {
	count := 0
	regexCache.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
