// Package adaptive provides the AEAD ciphers used to seal snapshot payloads.
//
// Supported Algorithms:
//
//   - AES-256-GCM: default, readable by every cfenv implementation
//   - ChaCha20-Poly1305: for hosts without hardware AES
//
// Both ciphers take a 256-bit key and a 96-bit nonce and produce a 128-bit
// authentication tag. Seal returns the nonce, ciphertext and tag as
// separate fields so callers can store them in self-describing envelopes.
//
// Usage:
//
//	c, err := adaptive.NewWithType(key, adaptive.CipherAESGCM)
//	sealed, err := c.Seal(plaintext, nil)
//	plaintext, err := c.Open(sealed, nil)
package adaptive
