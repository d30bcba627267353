package domain

import (
	"strings"
)

// DefaultKeyPrefix is the key prefix used when a link does not set one.
const DefaultKeyPrefix = "cfenv"

// StorageMode selects the remote layout used for a link. It is a closed
// union: every operation switches over ModeFlat and ModeSnapshot and
// rejects anything else.
type StorageMode string

const (
	// ModeFlat stores one mutable key per variable plus a metadata record.
	ModeFlat StorageMode = "flat"

	// ModeSnapshot stores immutable versioned blobs and a current pointer.
	ModeSnapshot StorageMode = "snapshot"
)

// ParseStorageMode parses raw, falling back to def when raw is blank.
func ParseStorageMode(raw string, def StorageMode) (StorageMode, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		value = string(def)
	}
	switch StorageMode(value) {
	case ModeFlat, ModeSnapshot:
		return StorageMode(value), nil
	default:
		return "", ErrInvalidStorageMode.WithDetailsf("%q, use \"flat\" or \"snapshot\"", raw)
	}
}

// String implements fmt.Stringer.
func (m StorageMode) String() string {
	return string(m)
}

// Link scopes sync operations to one project environment inside a remote
// namespace.
type Link struct {
	Namespace   string
	KeyPrefix   string
	Project     string
	Environment string
	Mode        StorageMode
}

// Validate checks that every scope field is set.
func (l Link) Validate() error {
	switch {
	case strings.TrimSpace(l.Namespace) == "":
		return ErrInvalidLink.WithDetails("namespace is required")
	case strings.TrimSpace(l.Project) == "":
		return ErrInvalidLink.WithDetails("project is required")
	case strings.TrimSpace(l.Environment) == "":
		return ErrInvalidLink.WithDetails("environment is required")
	}
	return nil
}

// Target returns the "project:environment" identifier of the link.
func (l Link) Target() string {
	return l.Project + ":" + l.Environment
}

// BaseKey returns "<prefix>:<project>:<environment>".
func (l Link) BaseKey() string {
	prefix := l.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + l.Project + ":" + l.Environment
}

// CurrentKey is the snapshot-mode pointer key.
func (l Link) CurrentKey() string {
	return l.BaseKey() + ":current"
}

// VersionsPrefix is the prefix shared by all snapshot version keys.
func (l Link) VersionsPrefix() string {
	return l.BaseKey() + ":versions:"
}

// VersionKey is the key holding the snapshot with the given version id.
func (l Link) VersionKey(versionID string) string {
	return l.VersionsPrefix() + versionID
}

// VarsPrefix is the prefix shared by all flat-mode variable keys.
func (l Link) VarsPrefix() string {
	return l.BaseKey() + ":vars:"
}

// VarKey is the flat-mode key of one variable.
func (l Link) VarKey(name string) string {
	return l.VarsPrefix() + name
}

// MetaKey is the flat-mode metadata key.
func (l Link) MetaKey() string {
	return l.BaseKey() + ":meta"
}
