package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/yndnr/cfenv-go/internal/core/domain"
)

// LocalVersion is the schema version of .cfenv/config.json.
const LocalVersion = 2

// LinkRecord binds a project environment to a profile and namespace.
type LinkRecord struct {
	Version     int    `json:"version"`
	Profile     string `json:"profile"`
	NamespaceID string `json:"namespaceId"`
	KeyPrefix   string `json:"keyPrefix"`
	Project     string `json:"project"`
	Environment string `json:"environment"`
	StorageMode string `json:"storageMode,omitempty"`
}

// Key returns "project:environment".
func (r *LinkRecord) Key() string {
	return LinkKey(r.Project, r.Environment)
}

// Link converts the record to a sync link, applying def when the record
// has no storage mode.
func (r *LinkRecord) Link(def domain.StorageMode) (domain.Link, error) {
	mode, err := domain.ParseStorageMode(r.StorageMode, def)
	if err != nil {
		return domain.Link{}, err
	}
	return domain.Link{
		Namespace:   r.NamespaceID,
		KeyPrefix:   r.KeyPrefix,
		Project:     r.Project,
		Environment: r.Environment,
		Mode:        mode,
	}, nil
}

// LinkKey joins project and environment.
func LinkKey(project, environment string) string {
	return project + ":" + environment
}

// LocalConfig is the on-disk project link document.
type LocalConfig struct {
	Version        int                    `json:"version"`
	DefaultLinkKey string                 `json:"defaultLinkKey,omitempty"`
	Links          map[string]*LinkRecord `json:"links"`
}

// Sorted returns the links ordered by project, then environment.
func (c *LocalConfig) Sorted() []*LinkRecord {
	out := make([]*LinkRecord, 0, len(c.Links))
	for _, l := range c.Links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Environment < out[j].Environment
	})
	return out
}

// LinkStore reads and writes the link file of one project directory.
type LinkStore struct {
	path string
}

// NewLinkStore returns a store for the project rooted at cwd.
func NewLinkStore(cwd string) *LinkStore {
	return &LinkStore{path: LocalPath(cwd)}
}

// Path returns the file path.
func (s *LinkStore) Path() string {
	return s.path
}

// Load reads the link file. It returns nil, nil when the file is absent.
// Single-link files of the first schema are converted.
func (s *LinkStore) Load() (*LocalConfig, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return normalizeLocal(raw)
}

func normalizeLocal(raw map[string]json.RawMessage) (*LocalConfig, error) {
	var version int
	if v := raw["version"]; len(v) > 0 {
		if err := json.Unmarshal(v, &version); err != nil {
			return nil, fmt.Errorf("invalid local config: \"version\" must be an integer: %w", err)
		}
	}

	if linksRaw, ok := raw["links"]; ok && version == LocalVersion {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(linksRaw, &entries); err != nil || entries == nil {
			return nil, errors.New("invalid local config format")
		}
		cfg := &LocalConfig{Version: LocalVersion, Links: make(map[string]*LinkRecord, len(entries))}
		for key, entry := range entries {
			rec, err := parseLinkRecord(entry)
			if err != nil {
				return nil, err
			}
			cfg.Links[key] = rec
		}
		if v := raw["defaultLinkKey"]; len(v) > 0 {
			if err := json.Unmarshal(v, &cfg.DefaultLinkKey); err != nil {
				return nil, fmt.Errorf("invalid local config: \"defaultLinkKey\" must be a string: %w", err)
			}
		}
		return cfg, nil
	}

	if _, hasProject := raw["project"]; hasProject {
		whole, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid local config: %w", err)
		}
		rec, err := parseLinkRecord(whole)
		if err != nil {
			return nil, err
		}
		return &LocalConfig{
			Version:        LocalVersion,
			DefaultLinkKey: rec.Key(),
			Links:          map[string]*LinkRecord{rec.Key(): rec},
		}, nil
	}

	return nil, errors.New("invalid local config format")
}

func parseLinkRecord(data json.RawMessage) (*LinkRecord, error) {
	var rec LinkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.New("invalid local config: link entry must be an object")
	}
	fields := []struct {
		name, value string
	}{
		{"profile", rec.Profile},
		{"namespaceId", rec.NamespaceID},
		{"keyPrefix", rec.KeyPrefix},
		{"project", rec.Project},
		{"environment", rec.Environment},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return nil, fmt.Errorf("invalid local config: %q must be a non-empty string", f.name)
		}
	}
	if rec.StorageMode != string(domain.ModeFlat) && rec.StorageMode != string(domain.ModeSnapshot) {
		rec.StorageMode = ""
	}
	rec.Version = 1
	return &rec, nil
}

// Save writes cfg atomically, creating .cfenv with 0700.
func (s *LinkStore) Save(cfg *LocalConfig) error {
	cfg.Version = LocalVersion
	if cfg.Links == nil {
		cfg.Links = map[string]*LinkRecord{}
	}
	return writeJSON(s.path, cfg)
}

// Upsert adds or replaces rec, optionally making it the default.
func (s *LinkStore) Upsert(rec *LinkRecord, setDefault bool) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &LocalConfig{Version: LocalVersion, Links: map[string]*LinkRecord{}}
	}
	rec.Version = 1
	cfg.Links[rec.Key()] = rec
	if setDefault {
		cfg.DefaultLinkKey = rec.Key()
	}
	return s.Save(cfg)
}

// List returns all links sorted, or none when the file is absent.
func (s *LinkStore) List() ([]*LinkRecord, error) {
	cfg, err := s.Load()
	if err != nil || cfg == nil {
		return nil, err
	}
	return cfg.Sorted(), nil
}

// Resolve picks the link to operate on. Empty filters match anything.
// Among several matches the default link wins; otherwise the choice is
// ambiguous.
func (s *LinkStore) Resolve(project, environment string) (*LinkRecord, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	if cfg == nil || len(cfg.Links) == 0 {
		return nil, domain.ErrLinkNotFound.WithDetails("run `cfenv setup` or `cfenv link` first")
	}

	matches := filterLinks(cfg.Sorted(), project, environment)
	def := cfg.Links[cfg.DefaultLinkKey]

	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) == 0:
		return nil, domain.ErrLinkNotFound.WithDetailsf("no link for project/env filters (%s / %s)", orStar(project), orStar(environment))
	}

	if def != nil {
		for _, m := range matches {
			if m.Key() == def.Key() {
				return def, nil
			}
		}
	}
	return nil, domain.ErrLinkAmbiguous.WithDetailsf("specify --project/--env, options: %s", joinTargets(matches))
}

// SetDefault makes the single link matching the filters the default.
func (s *LinkStore) SetDefault(project, environment string) (*LinkRecord, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrLinkNotFound.WithDetails("run `cfenv setup` or `cfenv link` first")
	}

	matches := filterLinks(cfg.Sorted(), project, environment)
	switch len(matches) {
	case 0:
		return nil, domain.ErrLinkNotFound.WithDetailsf("no link for environment %q", environment)
	case 1:
	default:
		return nil, domain.ErrLinkAmbiguous.WithDetailsf("pass --project, options: %s", joinTargets(matches))
	}

	cfg.DefaultLinkKey = matches[0].Key()
	if err := s.Save(cfg); err != nil {
		return nil, err
	}
	return matches[0], nil
}

func filterLinks(links []*LinkRecord, project, environment string) []*LinkRecord {
	var out []*LinkRecord
	for _, l := range links {
		if project != "" && l.Project != project {
			continue
		}
		if environment != "" && l.Environment != environment {
			continue
		}
		out = append(out, l)
	}
	return out
}

func joinTargets(links []*LinkRecord) string {
	parts := make([]string, len(links))
	for i, l := range links {
		parts[i] = l.Project + "/" + l.Environment
	}
	return strings.Join(parts, ", ")
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
