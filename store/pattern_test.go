package store

import "testing"

func TestPrefixPattern(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"ai:", `ai:*`},
		{"", `*`},
		{"a*b:", `a\*b:*`},
		{"q?[x]", `q\?\[x\]*`},
		{`back\slash`, `back\\slash*`},
		{"équipe:", "équipe:*"},
	}

	for _, tt := range tests {
		if got := PrefixPattern(tt.prefix); got != tt.want {
			t.Errorf("PrefixPattern(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}
