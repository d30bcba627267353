package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/cfenv-go/internal/core/domain"
)

func TestProfilesPath_XDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "cfenv", "profiles.json")
	if got := ProfilesPath(); got != want {
		t.Errorf("ProfilesPath() = %q, want %q", got, want)
	}
}

func TestProfileStore_LoadMissing(t *testing.T) {
	s := NewProfileStore(filepath.Join(t.TempDir(), "profiles.json"))

	f, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Version != 1 || len(f.Profiles) != 0 || f.DefaultProfile != "" {
		t.Errorf("Load() = %+v, want empty document", f)
	}
}

func TestProfileStore_UpsertAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "profiles.json")
	s := NewProfileStore(path)

	if err := s.Upsert(&Profile{Name: "work", AccountID: "acc-1", APIToken: "tok-1"}, true); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.Upsert(&Profile{Name: "home", AccountID: "acc-2", APIToken: "tok-2"}, false); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	p, err := s.Get("")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Name != "work" || p.AccountID != "acc-1" {
		t.Errorf("Get(\"\") = %+v, want default profile work", p)
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}

	p, err = s.Get("home")
	if err != nil || p.APIToken != "tok-2" {
		t.Errorf("Get(home) = %+v, %v", p, err)
	}

	if _, err := s.Get("missing"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrProfileNotFound", err)
	}

	f, _ := s.Load()
	if got := f.Names(); len(got) != 2 || got[0] != "home" {
		t.Errorf("Names() = %v", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}
	dirInfo, _ := os.Stat(filepath.Dir(path))
	if dirInfo.Mode().Perm() != 0o700 {
		t.Errorf("dir mode = %v, want 0700", dirInfo.Mode().Perm())
	}
}

func TestProfileStore_SingleProfileWithoutDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	content := `{"version":1,"profiles":{"only":{"accountId":"acc","apiToken":"t","createdAt":"2024-01-01T00:00:00.000Z"}}}`
	os.WriteFile(path, []byte(content), 0o600)

	p, err := NewProfileStore(path).Get("")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Name != "only" {
		t.Errorf("Name = %q, want key fallback", p.Name)
	}
	if !p.UpdatedAt.Equal(p.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want CreatedAt", p.UpdatedAt)
	}
}

func TestProfileStore_NoSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	content := `{"version":1,"profiles":{"a":{"accountId":"1"},"b":{"accountId":"2"}}}`
	os.WriteFile(path, []byte(content), 0o600)

	if _, err := NewProfileStore(path).Get(""); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Errorf("Get() error = %v, want ErrProfileNotFound", err)
	}
}

func TestProfileStore_InvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	os.WriteFile(path, []byte(`{"profiles":{"bad":{"apiToken":"x"}}}`), 0o600)

	if _, err := NewProfileStore(path).Load(); err == nil {
		t.Error("Load() should reject a profile without accountId")
	}

	os.WriteFile(path, []byte(`{"profiles":{"offline":{"backend":"local"}}}`), 0o600)
	f, err := NewProfileStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !f.Profiles["offline"].IsLocal() {
		t.Error("local profile should not need an account")
	}
}
