// Package token provides random secret generation.
//
// Secrets are drawn from crypto/rand and returned Base64 RawURL encoded
// so they can be pasted into shells and environment variables unquoted.
package token
