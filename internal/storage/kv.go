package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store closed")

// KeyItem is one entry returned by prefix listing.
type KeyItem struct {
	Name string `json:"name"`
	// Expiration is a Unix timestamp in seconds, zero when the key never expires.
	Expiration int64           `json:"expiration,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Namespace is a remote key space.
type Namespace struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// CredentialStatus is the result of a credential check.
type CredentialStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Active reports whether the credential can be used.
func (s *CredentialStatus) Active() bool {
	return s != nil && strings.EqualFold(s.Status, "active")
}

// Store is the per-key contract of a remote key-value store.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value of key. found is false when the key is absent.
	Get(ctx context.Context, namespace, key string) (value string, found bool, err error)

	// Put stores value under key.
	Put(ctx context.Context, namespace, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// ListKeys returns every key starting with prefix, fully paginated.
	ListKeys(ctx context.Context, namespace, prefix string) ([]KeyItem, error)
}

// NamespaceManager manages namespaces and credentials of a backend.
type NamespaceManager interface {
	// ListNamespaces returns every namespace, fully paginated.
	ListNamespaces(ctx context.Context) ([]Namespace, error)

	// CreateNamespace creates a namespace with the given title.
	CreateNamespace(ctx context.Context, title string) (*Namespace, error)

	// VerifyCredential reports the status of the configured credential.
	VerifyCredential(ctx context.Context) (*CredentialStatus, error)
}

// Backend is a store that can also manage namespaces.
type Backend interface {
	Store
	NamespaceManager
}

// FindOrCreateNamespace returns the namespace titled title, creating it
// when none exists. created reports whether a new namespace was made.
func FindOrCreateNamespace(ctx context.Context, m NamespaceManager, title string) (ns *Namespace, created bool, err error) {
	all, err := m.ListNamespaces(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range all {
		if all[i].Title == title {
			return &all[i], false, nil
		}
	}
	ns, err = m.CreateNamespace(ctx, title)
	if err != nil {
		return nil, false, err
	}
	return ns, true, nil
}

// KeyNames extracts the names of items.
func KeyNames(items []KeyItem) []string {
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return names
}
