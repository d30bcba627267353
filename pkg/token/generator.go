package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Secret length bounds in bytes.
const (
	DefaultLength = 32
	MinLength     = 16
	MaxLength     = 1024
)

// ErrInvalidLength is returned for lengths outside [MinLength, MaxLength].
var ErrInvalidLength = errors.New("token: invalid length")

// Generate generates a cryptographically secure random secret of
// DefaultLength bytes.
func Generate() (string, error) {
	return GenerateWithLength(DefaultLength)
}

// GenerateWithLength generates a secret with the specified byte length.
func GenerateWithLength(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidLength, length, MinLength, MaxLength)
	}
	bytes, err := GenerateBytes(length)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateBytes generates random bytes.
func GenerateBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return nil, err
	}
	return bytes, nil
}
