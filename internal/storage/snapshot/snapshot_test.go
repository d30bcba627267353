package snapshot

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/pkg/checksum"
)

func newTestSnapshot(entries domain.Env) *domain.Snapshot {
	return &domain.Snapshot{
		Schema:      domain.RecordSchema,
		VersionID:   "20240102030405678-abcdef12",
		Project:     "shop",
		Environment: "prod",
		Checksum:    checksum.Sum(entries),
		UpdatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 678e6, time.UTC),
		UpdatedBy:   "ci@runner",
		Entries:     entries,
	}
}

func TestNewVersionID(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 678e6, time.FixedZone("X", 3600))
	id := NewVersionID(ts)

	if !strings.HasPrefix(id, "20240102020405678-") {
		t.Errorf("NewVersionID() = %q, want UTC stamp prefix", id)
	}
	if !regexp.MustCompile(`^\d{17}-[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("NewVersionID() = %q, unexpected format", id)
	}
}

func TestNewVersionID_Sortable(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, NewVersionID(base.Add(time.Duration(i)*time.Millisecond)))
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids not in creation order: %v", ids)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	s := newTestSnapshot(domain.Env{"A": "1", "B": "line\nbreak"})

	tests := []struct {
		name string
		opts EncodeOptions
	}{
		{"plaintext", EncodeOptions{}},
		{"encrypted", EncodeOptions{Encrypt: true, Secret: "top-secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(s, tt.opts)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if IsEncrypted(payload) != tt.opts.Encrypt {
				t.Errorf("IsEncrypted() = %v, want %v", !tt.opts.Encrypt, tt.opts.Encrypt)
			}

			got, encrypted, err := Decode(payload, tt.opts.Secret)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if encrypted != tt.opts.Encrypt {
				t.Errorf("Decode() encrypted = %v, want %v", encrypted, tt.opts.Encrypt)
			}
			if !got.Entries.Equal(s.Entries) || got.Checksum != s.Checksum || got.VersionID != s.VersionID {
				t.Errorf("Decode() = %+v, want %+v", got, s)
			}
			if !got.UpdatedAt.Equal(s.UpdatedAt) {
				t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, s.UpdatedAt)
			}
		})
	}
}

func TestEncode_SecretRequired(t *testing.T) {
	_, err := Encode(newTestSnapshot(domain.Env{"A": "1"}), EncodeOptions{Encrypt: true})
	if !errors.Is(err, domain.ErrSecretRequired) {
		t.Errorf("Encode() error = %v, want ErrSecretRequired", err)
	}
}

func TestEncode_TooLarge(t *testing.T) {
	big := domain.Env{"BIG": strings.Repeat("x", MaxPayloadSize)}
	_, err := Encode(newTestSnapshot(big), EncodeOptions{})
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Errorf("Encode() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"not json", "garbage", domain.ErrInvalidRecord},
		{"missing fields", `{"schema":1}`, domain.ErrInvalidRecord},
		{"encrypted without secret", mustSeal(t, `{"schema":1}`), domain.ErrSecretRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.payload, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func mustSeal(t *testing.T, plaintext string) string {
	t.Helper()
	out, err := Seal(plaintext, "k-secret")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	return out
}
