package utils

import (
	"net/http"
	"testing"
)

func TestHeaderValue(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer canonical")
	raw := http.Header{"authorization": {"Bearer lower"}, "X-SKIP-CACHE": {"1"}}

	tests := []struct {
		name   string
		h      http.Header
		key    string
		want   string
		wantOK bool
	}{
		{"canonical", h, "authorization", "Bearer canonical", true},
		{"non-canonical map key", raw, "Authorization", "Bearer lower", true},
		{"upper-case map key", raw, "x-skip-cache", "1", true},
		{"missing", h, "Cache-Control", "", false},
		{"nil header", nil, "Authorization", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := HeaderValue(tt.h, tt.key)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("HeaderValue(%q) = (%q, %v), want (%q, %v)", tt.key, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDeleteHeader(t *testing.T) {
	h := http.Header{"x-skip-cache": {"1"}, "X-Skip-Cache": {"1"}, "Accept": {"application/json"}}
	DeleteHeader(h, "X-SKIP-CACHE")

	if len(h) != 1 || h.Get("Accept") == "" {
		t.Errorf("DeleteHeader left %v", h)
	}
}

func TestHasDirective(t *testing.T) {
	tests := []struct {
		value     string
		directive string
		want      bool
	}{
		{"no-store", "no-store", true},
		{"max-age=0, No-Store", "no-store", true},
		{"private, max-age=60", "no-store", false},
		{"max-age=60", "max-age", true},
		{"", "no-store", false},
		{"no-storex", "no-store", false},
	}

	for _, tt := range tests {
		if got := HasDirective(tt.value, tt.directive); got != tt.want {
			t.Errorf("HasDirective(%q, %q) = %v, want %v", tt.value, tt.directive, got, tt.want)
		}
	}
}
