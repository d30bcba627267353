package domain

import (
	"time"
)

// RecordSchema is the schema number written into every stored record.
const RecordSchema = 1

// FlatMetadata describes the current flat-mode variable set of a link.
type FlatMetadata struct {
	Schema       int       `json:"schema"`
	Mode         string    `json:"mode"`
	Checksum     string    `json:"checksum"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UpdatedBy    string    `json:"updatedBy,omitempty"`
	EntriesCount int       `json:"entriesCount"`
}

// Valid reports whether the record carries the fields readers rely on.
func (m *FlatMetadata) Valid() bool {
	return m != nil && m.Checksum != "" && m.EntriesCount >= 0
}

// Snapshot is an immutable, versioned copy of a link's variables.
type Snapshot struct {
	Schema      int       `json:"schema"`
	VersionID   string    `json:"versionId"`
	Project     string    `json:"project"`
	Environment string    `json:"environment"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updatedAt"`
	UpdatedBy   string    `json:"updatedBy,omitempty"`
	Entries     Env       `json:"entries"`
}

// CurrentPointer references the snapshot currently active for a link.
type CurrentPointer struct {
	Schema       int       `json:"schema"`
	VersionID    string    `json:"versionId"`
	Checksum     string    `json:"checksum"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UpdatedBy    string    `json:"updatedBy,omitempty"`
	EntriesCount int       `json:"entriesCount"`
	Encrypted    bool      `json:"encrypted,omitempty"`
}
