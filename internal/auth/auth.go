// Package auth checks the optional API bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ValidateToken performs constant-time comparison of the provided token
// against the expected token. An empty expected token matches nothing.
func ValidateToken(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case-sensitive.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
