package orchestrator

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemanager "github.com/budgetly/orchestrator/cache-manager"
)

func keyFor(t *testing.T, req *Request) string {
	t.Helper()
	n, err := normalize(req)
	require.NoError(t, err)
	return RequestKey(n, cachemanager.DefaultPolicy{}.Mode(n.Method, n.Header))
}

func TestRequestKey_EquivalentRequests(t *testing.T) {
	base := &Request{
		Method: "GET",
		URL:    "https://api.test/accounts?page=1",
		Header: http.Header{"Authorization": {"Bearer abc"}},
	}
	variants := []*Request{
		{Method: "get", URL: "https://api.test/accounts?page=1", Header: http.Header{"Authorization": {"Bearer abc"}}},
		{Method: "GET", URL: "HTTPS://API.TEST/accounts?page=1", Header: http.Header{"Authorization": {"Bearer abc"}}},
		{Method: "GET", URL: "https://api.test/accounts?page=1#top", Header: http.Header{"Authorization": {"Bearer abc"}}},
		{Method: "GET", URL: "https://api.test/accounts?page=1", Header: http.Header{"authorization": {"Bearer abc"}}},
		{Method: "GET", URL: "https://api.test/accounts?page=1", Header: http.Header{
			"Authorization": {"Bearer abc"},
			"Accept":        {"application/json"},
		}},
	}

	want := keyFor(t, base)
	for i, v := range variants {
		assert.Equal(t, want, keyFor(t, v), "variant %d", i)
	}
}

func TestRequestKey_DistinctRequests(t *testing.T) {
	base := keyFor(t, &Request{Method: "GET", URL: "https://api.test/goals", Header: http.Header{"Authorization": {"Bearer a"}}})

	tests := []struct {
		name string
		req  *Request
	}{
		{"other token", &Request{Method: "GET", URL: "https://api.test/goals", Header: http.Header{"Authorization": {"Bearer b"}}}},
		{"no token", &Request{Method: "GET", URL: "https://api.test/goals"}},
		{"other method", &Request{Method: "DELETE", URL: "https://api.test/goals", Header: http.Header{"Authorization": {"Bearer a"}}}},
		{"other query", &Request{Method: "GET", URL: "https://api.test/goals?x=1", Header: http.Header{"Authorization": {"Bearer a"}}}},
		{"skip cache", &Request{Method: "GET", URL: "https://api.test/goals", Header: http.Header{
			"Authorization": {"Bearer a"},
			"X-Skip-Cache":  {"true"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, keyFor(t, tt.req))
		})
	}
}

func TestRequestKey_Format(t *testing.T) {
	get := keyFor(t, &Request{Method: "GET", URL: "https://api.test/recurring"})
	assert.True(t, strings.HasPrefix(get, "GET https://api.test/recurring|a:0|b:0|"), get)
	assert.True(t, strings.HasSuffix(get, "|cache"), get)

	post := keyFor(t, &Request{Method: "POST", URL: "https://api.test/recurring", Body: []byte(`{"a":1}`)})
	assert.True(t, strings.HasSuffix(post, "|nocache"), post)
	assert.NotContains(t, post, "|b:0|")

	otherBody := keyFor(t, &Request{Method: "POST", URL: "https://api.test/recurring", Body: []byte(`{"a":2}`)})
	assert.NotEqual(t, post, otherBody)

	noStore := keyFor(t, &Request{Method: "GET", URL: "https://api.test/recurring", Header: http.Header{
		"cache-control": {"max-age=0, No-Store"},
	}})
	assert.True(t, strings.HasSuffix(noStore, "|nocache"), noStore)
}

func TestNormalize_Invalid(t *testing.T) {
	_, err := normalize(nil)
	assert.Error(t, err)

	_, err = normalize(&Request{Method: "GET", URL: "/relative"})
	assert.Error(t, err)

	_, err = normalize(&Request{Method: "GET", URL: "http://[::1"})
	assert.Error(t, err)
}

func TestNormalize_CopiesHeader(t *testing.T) {
	orig := &Request{Method: "GET", URL: "https://api.test/a", Header: http.Header{"X-A": {"1"}}}
	n, err := normalize(orig)
	require.NoError(t, err)

	n.Header.Set("X-A", "2")
	assert.Equal(t, "1", orig.Header.Get("X-A"))
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("POST", "https://api.test/goals", map[string]int{"target": 100})
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":100}`, string(req.Body))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	raw, err := NewRequest("PUT", "https://api.test/goals/1", []byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(raw.Body))
	assert.Empty(t, raw.Header.Get("Content-Type"))

	_, err = NewRequest("POST", "https://api.test/goals", func() {})
	assert.Error(t, err)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 10 * time.Second},
		{"3", 3 * time.Second},
		{" 0 ", 0},
		{"-1", 10 * time.Second},
		{"soon", 10 * time.Second},
		{now.Add(5 * time.Second).Format(http.TimeFormat), 5 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfter(tt.value, now, 10*time.Second), "Retry-After %q", tt.value)
	}
}

func TestIsPremiumRequired(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"top-level code", 403, `{"code":"PREMIUM_REQUIRED"}`, true},
		{"nested code", 403, `{"error":{"code":"PREMIUM_REQUIRED","message":"x"}}`, true},
		{"other code", 403, `{"code":"FORBIDDEN"}`, false},
		{"not json", 403, `PREMIUM_REQUIRED`, false},
		{"wrong status", 402, `{"code":"PREMIUM_REQUIRED"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPremiumRequired(tt.status, []byte(tt.body)))
		})
	}

	assert.Equal(t, "Go premium", premiumMessage([]byte(`{"message":"Go premium"}`), "fallback"))
	assert.Equal(t, "nested", premiumMessage([]byte(`{"error":{"message":"nested"}}`), "fallback"))
	assert.Equal(t, "fallback", premiumMessage([]byte(`{"code":"PREMIUM_REQUIRED"}`), "fallback"))
}

func TestBearer(t *testing.T) {
	assert.Equal(t, "abc", bearer(http.Header{"Authorization": {"Bearer abc"}}))
	assert.Equal(t, "abc", bearer(http.Header{"authorization": {"bearer abc"}}))
	assert.Equal(t, "", bearer(http.Header{"Authorization": {"Basic xyz"}}))
	assert.Equal(t, "", bearer(http.Header{}))
}
