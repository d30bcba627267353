package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sum computes the checksum of entries.
func Sum(entries map[string]string) string {
	return SumString(Canonicalize(entries))
}

// SumString computes the hex-encoded SHA-256 of s.
func SumString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// Verify reports whether entries hash to expected.
//
// Uses constant-time comparison.
func Verify(entries map[string]string, expected string) bool {
	actual := Sum(entries)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1
}
