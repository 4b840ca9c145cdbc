// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenBytes is the entropy of an onboarding session token.
const TokenBytes = 32

// Token returns a bearer token: 32 random bytes, hex-encoded to 64 chars.
func Token() string {
	return Hex(TokenBytes)
}

// WithPrefix generates a random ID with a prefix (e.g. "org_", "sub_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
