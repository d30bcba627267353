package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/infra/envfile"
)

// ProfilesVersion is the schema version of profiles.json.
const ProfilesVersion = 1

// Backend names a profile can select.
const (
	BackendCloudflare = "cloudflare"
	BackendLocal      = "local"
)

// Profile is a named set of credentials.
type Profile struct {
	Name      string `json:"name"`
	AccountID string `json:"accountId"`
	APIToken  string `json:"apiToken,omitempty"`
	// AuthSource is "api-token" for profiles created by login.
	AuthSource string    `json:"authSource,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// IsLocal reports whether the profile uses the offline backend.
func (p *Profile) IsLocal() bool {
	return p.Backend == BackendLocal
}

// ProfilesFile is the on-disk profiles document.
type ProfilesFile struct {
	Version        int                 `json:"version"`
	Profiles       map[string]*Profile `json:"profiles"`
	DefaultProfile string              `json:"defaultProfile,omitempty"`
}

// Names returns the profile names, sorted.
func (f *ProfilesFile) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProfileStore reads and writes a profiles file.
type ProfileStore struct {
	path string
}

// NewProfileStore returns a store for path, or ProfilesPath() when empty.
func NewProfileStore(path string) *ProfileStore {
	if path == "" {
		path = ProfilesPath()
	}
	return &ProfileStore{path: path}
}

// Path returns the file path.
func (s *ProfileStore) Path() string {
	return s.path
}

// Load reads the profiles file. A missing file yields an empty document.
func (s *ProfileStore) Load() (*ProfilesFile, error) {
	out := &ProfilesFile{Version: ProfilesVersion, Profiles: map[string]*Profile{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	var raw struct {
		Profiles       map[string]json.RawMessage `json:"profiles"`
		DefaultProfile string                     `json:"defaultProfile"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	for key, value := range raw.Profiles {
		p, err := parseProfile(key, value)
		if err != nil {
			return nil, err
		}
		out.Profiles[key] = p
	}
	out.DefaultProfile = raw.DefaultProfile
	return out, nil
}

func parseProfile(key string, data json.RawMessage) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid profile %q: %w", key, err)
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = key
	}
	if strings.TrimSpace(p.AccountID) == "" && !p.IsLocal() {
		return nil, fmt.Errorf("invalid profile %q: missing accountId", key)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	return &p, nil
}

// Save writes f atomically, creating the directory 0700.
func (s *ProfileStore) Save(f *ProfilesFile) error {
	f.Version = ProfilesVersion
	if f.Profiles == nil {
		f.Profiles = map[string]*Profile{}
	}
	return writeJSON(s.path, f)
}

// Upsert stores p, optionally making it the default.
func (s *ProfileStore) Upsert(p *Profile, setDefault bool) error {
	f, err := s.Load()
	if err != nil {
		return err
	}
	if existing, ok := f.Profiles[p.Name]; ok && p.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	f.Profiles[p.Name] = p
	if setDefault {
		f.DefaultProfile = p.Name
	}
	return s.Save(f)
}

// Get returns the named profile, or the default one when name is empty.
// With no default set, a lone profile is used.
func (s *ProfileStore) Get(name string) (*Profile, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = f.DefaultProfile
	}
	if name == "" {
		if len(f.Profiles) == 1 {
			for _, p := range f.Profiles {
				return p, nil
			}
		}
		return nil, domain.ErrProfileNotFound.WithDetails("no profile selected, run `cfenv login` first or pass --profile")
	}

	p, ok := f.Profiles[name]
	if !ok {
		return nil, domain.ErrProfileNotFound.WithDetailsf("profile %q does not exist, run `cfenv login --profile %s`", name, name)
	}
	return p, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := envfile.EnsurePrivateDir(filepath.Dir(path)); err != nil {
		return err
	}
	return envfile.WriteFileAtomic(path, append(data, '\n'))
}
