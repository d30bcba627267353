package adaptive

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// KeySize is the key size in bytes accepted by every cipher.
const KeySize = 32

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-256-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

var (
	// ErrKeySize is returned when a key is not KeySize bytes.
	ErrKeySize = errors.New("adaptive: key must be 32 bytes")

	// ErrMalformed is returned when sealed fields have the wrong sizes.
	ErrMalformed = errors.New("adaptive: malformed sealed payload")
)

// Sealed holds the output of one authenticated encryption.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Cipher provides authenticated encryption.
type Cipher interface {
	// Type returns the cipher type.
	Type() CipherType

	// Seal encrypts plaintext under a fresh random nonce.
	Seal(plaintext, additionalData []byte) (*Sealed, error)

	// Open verifies and decrypts a sealed payload.
	Open(sealed *Sealed, additionalData []byte) ([]byte, error)

	// NonceSize returns the nonce size in bytes.
	NonceSize() int

	// Overhead returns the authentication tag size in bytes.
	Overhead() int
}

// NewWithType creates a cipher of the specified type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	switch cipherType {
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, errors.New("unknown cipher type: " + string(cipherType))
	}
}

// baseCipher provides common functionality for ciphers.
type baseCipher struct {
	aead cipher.AEAD
}

// NonceSize returns the nonce size in bytes.
func (c *baseCipher) NonceSize() int {
	return c.aead.NonceSize()
}

// Overhead returns the authentication tag size in bytes.
func (c *baseCipher) Overhead() int {
	return c.aead.Overhead()
}

// Seal performs authenticated encryption and splits the tag off the
// ciphertext.
func (c *baseCipher) Seal(plaintext, additionalData []byte) (*Sealed, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := c.aead.Seal(nil, nonce, plaintext, additionalData)
	split := len(out) - c.aead.Overhead()
	return &Sealed{
		Nonce:      nonce,
		Ciphertext: out[:split:split],
		Tag:        out[split:],
	}, nil
}

// Open performs authenticated decryption.
func (c *baseCipher) Open(sealed *Sealed, additionalData []byte) ([]byte, error) {
	if sealed == nil || len(sealed.Nonce) != c.aead.NonceSize() || len(sealed.Tag) != c.aead.Overhead() {
		return nil, ErrMalformed
	}

	joined := make([]byte, 0, len(sealed.Ciphertext)+len(sealed.Tag))
	joined = append(joined, sealed.Ciphertext...)
	joined = append(joined, sealed.Tag...)
	return c.aead.Open(nil, sealed.Nonce, joined, additionalData)
}
