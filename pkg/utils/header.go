package utils

import (
	"net/http"
	"strings"
)

// HeaderValue returns the first value of name in h, matching names
// case-insensitively even when h was built without canonical keys.
func HeaderValue(h http.Header, name string) (string, bool) {
	if v, ok := h[http.CanonicalHeaderKey(name)]; ok && len(v) > 0 {
		return v[0], true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}

// DeleteHeader removes every spelling of name from h.
func DeleteHeader(h http.Header, name string) {
	for k := range h {
		if strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
}

// HasDirective reports whether a comma-separated header value such as
// Cache-Control contains directive (case-insensitive).
func HasDirective(value, directive string) bool {
	for _, part := range strings.Split(value, ",") {
		token := strings.TrimSpace(part)
		if i := strings.IndexByte(token, '='); i >= 0 {
			token = token[:i]
		}
		if strings.EqualFold(token, directive) {
			return true
		}
	}
	return false
}
