package cachemanager

import (
	"net/http"
	"testing"
)

func TestDefaultPolicy_Mode(t *testing.T) {
	tests := []struct {
		name   string
		method string
		header http.Header
		want   CacheMode
	}{
		{"plain GET", "GET", nil, ModeCache},
		{"lower-case get", "get", nil, ModeCache},
		{"POST", "POST", nil, ModeNoCache},
		{"DELETE", "DELETE", nil, ModeNoCache},
		{"skip directive", "GET", http.Header{"X-Skip-Cache": {"true"}}, ModeNoCache},
		{"skip directive any case", "GET", http.Header{"x-skip-cache": {"1"}}, ModeNoCache},
		{"skip directive false", "GET", http.Header{"X-Skip-Cache": {"false"}}, ModeCache},
		{"no-store", "GET", http.Header{"Cache-Control": {"no-store"}}, ModeNoCache},
		{"no-store lower-case header", "GET", http.Header{"cache-control": {"max-age=0, NO-STORE"}}, ModeNoCache},
		{"other cache-control", "GET", http.Header{"Cache-Control": {"max-age=60"}}, ModeCache},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (DefaultPolicy{}).Mode(tt.method, tt.header); got != tt.want {
				t.Errorf("Mode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsCacheEligible(t *testing.T) {
	if !IsCacheEligible(http.MethodGet, http.Header{}) {
		t.Error("GET should be eligible")
	}
	if IsCacheEligible(http.MethodPatch, http.Header{}) {
		t.Error("PATCH should not be eligible")
	}
	if ModeCache.String() != "cache" || ModeNoCache.String() != "nocache" {
		t.Error("unexpected CacheMode tokens")
	}
}
