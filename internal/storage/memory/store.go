package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yndnr/cfenv-go/internal/storage"
)

// Op names used in the call log and for failure injection.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpList   = "list"
)

// Call is one recorded operation.
type Call struct {
	Op  string
	Key string
}

// Store is an in-memory storage.Backend.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	calls      []Call
	failures   map[Call]error
	nextID     int
	status     string
}

type namespace struct {
	title string
	data  map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		namespaces: make(map[string]*namespace),
		failures:   make(map[Call]error),
		status:     "active",
	}
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, ns, key string) (string, bool, error) {
	if err := s.record(ctx, OpGet, key); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return "", false, nil
	}
	v, ok := n.data[key]
	return v, ok, nil
}

// Put implements storage.Store. Unknown namespaces are created implicitly.
func (s *Store) Put(ctx context.Context, ns, key, value string) error {
	if err := s.record(ctx, OpPut, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensure(ns).data[key] = value
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := s.record(ctx, OpDelete, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.namespaces[ns]; ok {
		delete(n.data, key)
	}
	return nil
}

// ListKeys implements storage.Store. Results are sorted by name.
func (s *Store) ListKeys(ctx context.Context, ns, prefix string) ([]storage.KeyItem, error) {
	if err := s.record(ctx, OpList, prefix); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return nil, nil
	}
	var items []storage.KeyItem
	for k := range n.data {
		if strings.HasPrefix(k, prefix) {
			items = append(items, storage.KeyItem{Name: k})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// ListNamespaces implements storage.NamespaceManager.
func (s *Store) ListNamespaces(ctx context.Context) ([]storage.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Namespace, 0, len(s.namespaces))
	for id, n := range s.namespaces {
		out = append(out, storage.Namespace{ID: id, Title: n.title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateNamespace implements storage.NamespaceManager.
func (s *Store) CreateNamespace(ctx context.Context, title string) (*storage.Namespace, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("memory: namespace title cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := fmt.Sprintf("ns-%d", s.nextID)
	s.namespaces[id] = &namespace{title: title, data: make(map[string]string)}
	return &storage.Namespace{ID: id, Title: title}, nil
}

// VerifyCredential implements storage.NamespaceManager.
func (s *Store) VerifyCredential(ctx context.Context) (*storage.CredentialStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &storage.CredentialStatus{ID: "memory", Status: s.status}, nil
}

// SetCredentialStatus changes the status reported by VerifyCredential.
func (s *Store) SetCredentialStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// FailOn makes the next matching operations on key return err until
// cleared with a nil err. An empty key matches every key.
func (s *Store) FailOn(op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Call{Op: op, Key: key}
	if err == nil {
		delete(s.failures, c)
		return
	}
	s.failures[c] = err
}

// Calls returns a copy of the recorded operations.
func (s *Store) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Call(nil), s.calls...)
}

// ResetCalls clears the call log.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Keys returns the sorted keys of a namespace.
func (s *Store) Keys(ns string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.namespaces[ns]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(n.data))
	for k := range n.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) record(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: op, Key: key})
	if err, ok := s.failures[Call{Op: op, Key: key}]; ok {
		return err
	}
	if err, ok := s.failures[Call{Op: op}]; ok {
		return err
	}
	return nil
}

// ensure must be called with mu held.
func (s *Store) ensure(ns string) *namespace {
	n, ok := s.namespaces[ns]
	if !ok {
		n = &namespace{title: ns, data: make(map[string]string)}
		s.namespaces[ns] = n
	}
	return n
}

var _ storage.Backend = (*Store)(nil)
