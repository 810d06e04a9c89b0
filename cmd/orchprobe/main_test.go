package main

import (
	"context"
	"testing"

	cachemanager "github.com/budgetly/orchestrator/cache-manager"
)

func TestBuildRequest(t *testing.T) {
	opts := &fetchOptions{
		method:    "put",
		data:      `{"target":500}`,
		headers:   []string{"X-Trace: abc", "Accept:application/json"},
		skipCache: true,
	}
	req, err := buildRequest("https://api.test/goals/3", opts)
	if err != nil {
		t.Fatalf("buildRequest failed: %v", err)
	}
	if req.Method != "PUT" {
		t.Errorf("Expected method PUT, got %s", req.Method)
	}
	if string(req.Body) != `{"target":500}` {
		t.Errorf("Unexpected body %q", req.Body)
	}
	if got := req.Header.Get("X-Trace"); got != "abc" {
		t.Errorf("Expected X-Trace abc, got %q", got)
	}
	if got := req.Header.Get("Accept"); got != "application/json" {
		t.Errorf("Expected Accept header, got %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Expected JSON content type, got %q", got)
	}
	if req.Header.Get(cachemanager.SkipCacheHeader) == "" {
		t.Error("Expected skip-cache directive")
	}

	if _, err := buildRequest("https://api.test/goals", &fetchOptions{method: "GET", headers: []string{"broken"}}); err == nil {
		t.Error("Expected error for malformed header")
	}
}

func TestProbeURL(t *testing.T) {
	p := &probe{baseURL: "https://api.test/api/v1"}

	tests := map[string]string{
		"/accounts":                 "https://api.test/api/v1/accounts",
		"goals?page=2":              "https://api.test/api/v1/goals?page=2",
		"https://other.test/health": "https://other.test/health",
	}
	for in, want := range tests {
		if got := p.url(in); got != want {
			t.Errorf("url(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvTokens_Refresh(t *testing.T) {
	t.Setenv(envToken, "first")
	tokens := newEnvTokens("first")

	if _, err := tokens.RefreshTokens(context.Background()); err == nil {
		t.Error("Expected refresh to fail when the environment holds the same token")
	}

	t.Setenv(envToken, "second")
	got, err := tokens.RefreshTokens(context.Background())
	if err != nil {
		t.Fatalf("RefreshTokens failed: %v", err)
	}
	if got != "second" || tokens.GetAccessToken() != "second" {
		t.Errorf("Expected rotated token, got %q", got)
	}

	tokens.ClearTokens()
	if tokens.GetAccessToken() != "" {
		t.Error("Expected token cleared")
	}
}
