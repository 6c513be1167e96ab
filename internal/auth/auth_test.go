package auth

import (
	"net/http/httptest"
	"testing"
)

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name     string
		provided string
		expected string
		want     bool
	}{
		{
			name:     "matching tokens",
			provided: "secret-token-123",
			expected: "secret-token-123",
			want:     true,
		},
		{
			name:     "non-matching tokens",
			provided: "wrong-token",
			expected: "secret-token-123",
			want:     false,
		},
		{
			name:     "empty provided token",
			provided: "",
			expected: "secret-token-123",
			want:     false,
		},
		{
			name:     "empty expected token",
			provided: "secret-token-123",
			expected: "",
			want:     false,
		},
		{
			name:     "both empty",
			provided: "",
			expected: "",
			want:     false,
		},
		{
			name:     "similar tokens different length",
			provided: "secret-token-12",
			expected: "secret-token-123",
			want:     false,
		},
		{
			name:     "unicode tokens matching",
			provided: "token-with-emoji-üîê",
			expected: "token-with-emoji-üîê",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateToken(tt.provided, tt.expected)
			if got != tt.want {
				t.Errorf("ValidateToken(%q, %q) = %v, want %v",
					tt.provided, tt.expected, got, tt.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{name: "bearer", header: "Bearer abc", want: "abc", wantOK: true},
		{name: "missing", header: "", wantOK: false},
		{name: "lowercase scheme", header: "bearer abc", wantOK: false},
		{name: "basic", header: "Basic dXNlcjpwYXNz", wantOK: false},
		{name: "empty token", header: "Bearer ", wantOK: false},
		{name: "no separator", header: "Bearerabc", wantOK: false},
		{name: "token with space", header: "Bearer a b", want: "a b", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/research/tools", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := BearerToken(r)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("BearerToken(%q) = %q, %v, want %q, %v", tt.header, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
