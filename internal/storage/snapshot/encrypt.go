package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/pkg/crypto/adaptive"
	"github.com/yndnr/cfenv-go/pkg/token"
)

// Envelope format and kdf tags.
const (
	FormatAESGCM   = "cfenv-aes-256-gcm-v1"
	FormatChaCha20 = "cfenv-chacha20-poly1305-v1"

	KDFScrypt   = "scrypt"
	KDFArgon2id = "argon2id"
)

const (
	// SaltLength is the random salt length used in key derivation.
	SaltLength = 16

	keyLength = adaptive.KeySize

	// scrypt parameters match Node's scryptSync defaults.
	scryptN = 16384
	scryptR = 8
	scryptP = 1

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

var formatCiphers = map[string]adaptive.CipherType{
	FormatAESGCM:   adaptive.CipherAESGCM,
	FormatChaCha20: adaptive.CipherChaCha20,
}

// Envelope is the JSON wrapper of an encrypted payload.
type Envelope struct {
	Format        string `json:"format"`
	KDF           string `json:"kdf"`
	SaltB64       string `json:"saltB64"`
	IVB64         string `json:"ivB64"`
	AuthTagB64    string `json:"authTagB64"`
	CiphertextB64 string `json:"ciphertextB64"`
}

// valid checks the envelope against the fixed schema.
func (e *Envelope) valid() bool {
	if _, ok := formatCiphers[e.Format]; !ok {
		return false
	}
	if e.KDF != KDFScrypt && e.KDF != KDFArgon2id {
		return false
	}
	return e.SaltB64 != "" && e.IVB64 != "" && e.AuthTagB64 != "" && e.CiphertextB64 != ""
}

// SealOptions selects the envelope format and key derivation.
type SealOptions struct {
	Format string
	KDF    string
}

// SealOption configures Seal.
type SealOption func(*SealOptions)

// WithFormat selects the envelope format tag.
func WithFormat(format string) SealOption {
	return func(o *SealOptions) {
		o.Format = format
	}
}

// WithKDF selects the key derivation function tag.
func WithKDF(kdf string) SealOption {
	return func(o *SealOptions) {
		o.KDF = kdf
	}
}

// Seal encrypts plaintext under secret and returns the envelope JSON.
// A fresh salt and nonce are drawn on every call.
func Seal(plaintext, secret string, opts ...SealOption) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", domain.ErrSecretRequired
	}

	o := SealOptions{Format: FormatAESGCM, KDF: KDFScrypt}
	for _, opt := range opts {
		opt(&o)
	}
	ct, ok := formatCiphers[o.Format]
	if !ok {
		return "", domain.ErrInvalidArgument.WithDetailsf("unknown envelope format %q", o.Format)
	}

	salt, err := token.GenerateBytes(SaltLength)
	if err != nil {
		return "", fmt.Errorf("snapshot: generate salt: %w", err)
	}
	key, err := deriveKey(secret, salt, o.KDF)
	if err != nil {
		return "", err
	}
	defer ZeroKey(key)

	c, err := adaptive.NewWithType(key, ct)
	if err != nil {
		return "", fmt.Errorf("snapshot: create cipher: %w", err)
	}
	sealed, err := c.Seal([]byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("snapshot: encrypt: %w", err)
	}

	out, err := json.Marshal(Envelope{
		Format:        o.Format,
		KDF:           o.KDF,
		SaltB64:       base64.StdEncoding.EncodeToString(salt),
		IVB64:         base64.StdEncoding.EncodeToString(sealed.Nonce),
		AuthTagB64:    base64.StdEncoding.EncodeToString(sealed.Tag),
		CiphertextB64: base64.StdEncoding.EncodeToString(sealed.Ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal envelope: %w", err)
	}
	return string(out), nil
}

// Open decrypts an envelope. Payloads that are not envelopes are returned
// unchanged.
func Open(payload, secret string) (string, error) {
	env, ok := parseEnvelope(payload)
	if !ok {
		return payload, nil
	}
	if strings.TrimSpace(secret) == "" {
		return "", domain.ErrSecretRequired
	}

	salt, err1 := base64.StdEncoding.DecodeString(env.SaltB64)
	nonce, err2 := base64.StdEncoding.DecodeString(env.IVB64)
	tag, err3 := base64.StdEncoding.DecodeString(env.AuthTagB64)
	ciphertext, err4 := base64.StdEncoding.DecodeString(env.CiphertextB64)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return "", domain.ErrDecryptFailed
	}

	key, err := deriveKey(secret, salt, env.KDF)
	if err != nil {
		return "", domain.ErrDecryptFailed
	}
	defer ZeroKey(key)

	c, err := adaptive.NewWithType(key, formatCiphers[env.Format])
	if err != nil {
		return "", domain.ErrDecryptFailed
	}
	plaintext, err := c.Open(&adaptive.Sealed{Nonce: nonce, Ciphertext: ciphertext, Tag: tag}, nil)
	if err != nil {
		return "", domain.ErrDecryptFailed
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether payload is an envelope, without decrypting.
func IsEncrypted(payload string) bool {
	_, ok := parseEnvelope(payload)
	return ok
}

func parseEnvelope(payload string) (*Envelope, bool) {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, false
	}
	if !env.valid() {
		return nil, false
	}
	return &env, true
}

func deriveKey(secret string, salt []byte, kdf string) ([]byte, error) {
	switch kdf {
	case KDFScrypt:
		key, err := scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, keyLength)
		if err != nil {
			return nil, fmt.Errorf("snapshot: derive key: %w", err)
		}
		return key, nil
	case KDFArgon2id:
		return argon2.IDKey([]byte(secret), salt, argon2Time, argon2Memory, argon2Threads, keyLength), nil
	default:
		return nil, domain.ErrInvalidArgument.WithDetailsf("unknown kdf %q", kdf)
	}
}

// GenerateSecret returns a random URL-safe secret of length bytes.
func GenerateSecret(length int) (string, error) {
	secret, err := token.GenerateWithLength(length)
	if errors.Is(err, token.ErrInvalidLength) {
		return "", domain.ErrSecretLength.WithDetailsf("got %d", length)
	}
	return secret, err
}

// ZeroKey securely zeros a key in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
