package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Opaque token prefixes. The prefix lets the introspection endpoint try the
// right interpretation first without leaking anything about validity.
const (
	accessTokenPrefix  = "mga_"
	refreshTokenPrefix = "mgr_"
)

func secureRandomString(size int) (string, error) {
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func scopeFields(scope string) []string {
	return strings.Fields(scope)
}

// scopeSubset reports whether every scope in requested appears in granted.
// Both arguments are space-delimited scope strings.
func scopeSubset(requested, granted string) bool {
	have := make(map[string]struct{})
	for _, s := range scopeFields(granted) {
		have[s] = struct{}{}
	}
	for _, s := range scopeFields(requested) {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}
