package utils

import (
	"testing"
)

func TestDigest(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{"identical bodies", `{"amount":10}`, `{"amount":10}`, true},
		{"different bodies", `{"amount":10}`, `{"amount":11}`, false},
		{"identical tokens", "Bearer abc", "Bearer abc", true},
		{"different tokens", "Bearer abc", "Bearer abd", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da := Digest([]byte(tt.a))
			db := Digest([]byte(tt.b))
			if (da == db) != tt.same {
				t.Errorf("Digest(%q)=%s Digest(%q)=%s, same=%v want %v", tt.a, da, tt.b, db, da == db, tt.same)
			}
		})
	}
}

func TestDigest_Format(t *testing.T) {
	d := Digest([]byte("hello"))
	if len(d) != 16 {
		t.Errorf("Digest length = %d, want 16", len(d))
	}
	for _, c := range d {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("Digest contains non-hex character %q", c)
		}
	}

	if Digest(nil) != EmptyDigest {
		t.Errorf("Digest(nil) = %s, want %s", Digest(nil), EmptyDigest)
	}
}

func TestDigestString_MatchesDigest(t *testing.T) {
	inputs := []string{"a", "Bearer token-123", `{"x":[1,2,3]}`}
	for _, in := range inputs {
		if DigestString(in) != Digest([]byte(in)) {
			t.Errorf("DigestString(%q) != Digest(%q)", in, in)
		}
	}
}

func TestDjb2(t *testing.T) {
	// Reference values for the hash*33 + c variant.
	if got := Djb2(""); got != 5381 {
		t.Errorf("Djb2(\"\") = %d, want 5381", got)
	}
	if got := Djb2("a"); got != 177670 {
		t.Errorf("Djb2(\"a\") = %d, want 177670", got)
	}
	if Djb2("abc") == Djb2("acb") {
		t.Error("Djb2 should be order sensitive")
	}
	if Djb2Hex("") != EmptyDigest {
		t.Errorf("Djb2Hex(\"\") = %s, want %s", Djb2Hex(""), EmptyDigest)
	}
}

func BenchmarkDigest(b *testing.B) {
	body := []byte(`{"name":"rent","amount":1200,"frequency":"monthly","category":"housing"}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Digest(body)
	}
}
