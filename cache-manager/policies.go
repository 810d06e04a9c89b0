package cachemanager

import (
	"net/http"
	"strings"

	"github.com/budgetly/orchestrator/pkg/utils"
)

// SkipCacheHeader is the caller-side directive that opts a GET out of the
// response cache. It is consumed by the orchestrator and never sent.
const SkipCacheHeader = "X-Skip-Cache"

// CacheMode records whether a request may be served from and written to the cache.
type CacheMode int

const (
	// ModeNoCache bypasses the cache entirely.
	ModeNoCache CacheMode = iota
	// ModeCache reads and populates the cache.
	ModeCache
)

// String returns the token used inside a RequestKey.
func (m CacheMode) String() string {
	if m == ModeCache {
		return "cache"
	}
	return "nocache"
}

// CachePolicy decides cache eligibility for outgoing requests.
type CachePolicy interface {
	Mode(method string, header http.Header) CacheMode
}

// DefaultPolicy caches GETs unless the caller sent the skip directive or a
// Cache-Control: no-store.
type DefaultPolicy struct{}

// Mode implements CachePolicy.
func (DefaultPolicy) Mode(method string, header http.Header) CacheMode {
	if !strings.EqualFold(method, http.MethodGet) {
		return ModeNoCache
	}
	if v, ok := utils.HeaderValue(header, SkipCacheHeader); ok && isTruthy(v) {
		return ModeNoCache
	}
	if v, ok := utils.HeaderValue(header, "Cache-Control"); ok && utils.HasDirective(v, "no-store") {
		return ModeNoCache
	}
	return ModeCache
}

// IsCacheEligible reports whether DefaultPolicy caches the request.
func IsCacheEligible(method string, header http.Header) bool {
	return DefaultPolicy{}.Mode(method, header) == ModeCache
}

// isTruthy treats any value except an explicit "false"/"0" as set.
func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no":
		return false
	default:
		return true
	}
}
