package utils

import (
	"testing"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
		wantErr bool
	}{
		// Exact matches
		{"exact match", "/profile", "/profile", true, false},
		{"exact no match", "/profile", "/profiles", false, false},

		// Prefix matches
		{"prefix match", "/recurring*", "/recurring/42", true, false},
		{"prefix match bare", "/recurring*", "/recurring", true, false},
		{"prefix match query", "/recurring*", "/recurring?page=2", true, false},
		{"prefix no match", "/recurring*", "/transactions/1", false, false},
		{"prefix empty key", "/recurring*", "", false, false},

		// Wildcard match-all
		{"wildcard all", "*", "/any/path", true, false},
		{"wildcard all empty", "*", "", true, false},

		// Middle wildcards
		{"user scoped", "/users/*/recurring", "/users/42/recurring", true, false},
		{"user scoped no match", "/users/*/recurring", "/users/42/budgets", false, false},
		{"user scoped trailing", "/users/*/recurring*", "/users/42/recurring/7", true, false},

		// Question mark
		{"question mark", "/v?/accounts", "/v2/accounts", true, false},
		{"question mark no match", "/v?/accounts", "/v10/accounts", false, false},

		// Metacharacters are literal
		{"dot literal", "/files/report.csv", "/files/reportXcsv", false, false},
		{"dot literal glob", "/files/*.csv", "/files/a.csv", true, false},
		{"dot literal glob no match", "/files/*.csv", "/files/acsv", false, false},

		// Edge cases
		{"empty pattern", "", "/key", false, true},
		{"empty both", "", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchPattern(tt.pattern, tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("MatchPattern() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestMatchPattern_RegexCache(t *testing.T) {
	ClearRegexCache()

	if _, err := MatchPattern("/users/*/goals", "/users/1/goals"); err != nil {
		t.Fatalf("MatchPattern() error = %v", err)
	}
	if _, err := MatchPattern("/users/*/goals", "/users/2/goals"); err != nil {
		t.Fatalf("MatchPattern() error = %v", err)
	}

	if size := RegexCacheSize(); size != 1 {
		t.Errorf("RegexCacheSize() = %d, want 1", size)
	}

	// Prefix patterns never hit the regex path
	MatchPattern("/budgets*", "/budgets/3")
	if size := RegexCacheSize(); size != 1 {
		t.Errorf("RegexCacheSize() after prefix match = %d, want 1", size)
	}

	ClearRegexCache()
	if size := RegexCacheSize(); size != 0 {
		t.Errorf("RegexCacheSize() after clear = %d, want 0", size)
	}
}

func TestGlobToRegex(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"/users/*/recurring", "/users/.*/recurring"},
		{"/v?/x", "/v./x"},
		{"/a.b", `/a\.b`},
		{"/q(1)", `/q\(1\)`},
	}

	for _, tt := range tests {
		if got := globToRegex(tt.pattern); got != tt.want {
			t.Errorf("globToRegex(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestPrefixMatch(t *testing.T) {
	if !PrefixMatch("GET https://api.example.com/recurring", "GET https://api.example.com/recurring/1|a:0") {
		t.Error("PrefixMatch() should match key under prefix")
	}
	if PrefixMatch("GET https://api.example.com/recurring", "POST https://api.example.com/recurring") {
		t.Error("PrefixMatch() should not match a different method")
	}
}
