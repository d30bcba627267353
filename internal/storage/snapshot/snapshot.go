package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/cfenv-go/internal/core/domain"
)

// MaxPayloadSize is the largest value the remote store accepts (25 MiB).
const MaxPayloadSize = 25 * 1024 * 1024

// NewVersionID returns a sortable version id for a snapshot created at t.
func NewVersionID(t time.Time) string {
	stamp := strings.Replace(t.UTC().Format("20060102150405.000"), ".", "", 1)
	return stamp + "-" + uuid.NewString()[:8]
}

// EncodeOptions controls snapshot encoding.
type EncodeOptions struct {
	Encrypt bool
	Secret  string
	Seal    []SealOption
}

// Encode serializes s, optionally sealing it, and enforces MaxPayloadSize.
func Encode(s *domain.Snapshot, opts EncodeOptions) (string, error) {
	if opts.Encrypt && strings.TrimSpace(opts.Secret) == "" {
		return "", domain.ErrSecretRequired
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}
	payload := string(raw)

	if opts.Encrypt {
		payload, err = Seal(payload, opts.Secret, opts.Seal...)
		if err != nil {
			return "", err
		}
	}

	if err := CheckSize(payload); err != nil {
		return "", err
	}
	return payload, nil
}

// CheckSize fails when payload exceeds MaxPayloadSize bytes.
func CheckSize(payload string) error {
	if len(payload) > MaxPayloadSize {
		return domain.ErrPayloadTooLarge.WithDetailsf("%d bytes", len(payload))
	}
	return nil
}

// Decode opens and parses a stored snapshot payload. The returned flag
// reports whether the payload was encrypted.
func Decode(payload, secret string) (*domain.Snapshot, bool, error) {
	encrypted := IsEncrypted(payload)
	plaintext, err := Open(payload, secret)
	if err != nil {
		return nil, encrypted, err
	}

	var s domain.Snapshot
	if err := json.Unmarshal([]byte(plaintext), &s); err != nil {
		return nil, encrypted, domain.ErrInvalidRecord.WithDetails("snapshot is not valid JSON").WithCause(err)
	}
	if s.VersionID == "" || s.Checksum == "" || s.Entries == nil {
		return nil, encrypted, domain.ErrInvalidRecord.WithDetails("snapshot is missing required fields")
	}
	return &s, encrypted, nil
}
