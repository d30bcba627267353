package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/cfenv-go/internal/telemetry/logger"
)

// Key spaces inside the Badger database.
const (
	badgerDataPrefix      = "kv/"
	badgerNamespacePrefix = "ns/"
)

// BadgerConfig configures the local Badger backend.
type BadgerConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory.
	InMemory bool

	// GCInterval is the interval between value log GC runs. Zero disables GC.
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	GCThreshold float64

	// SyncWrites enables fsync after each write.
	SyncWrites bool
}

// DefaultBadgerConfig returns the default configuration for dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:         dir,
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		SyncWrites:  true,
	}
}

// BadgerStore implements Backend on an embedded Badger v3 database.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger logger.Logger
	closed atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// OpenBadger opens (or creates) a Badger-backed store.
func OpenBadger(cfg BadgerConfig, log logger.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if log == nil {
		log = logger.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{logger: log.With("component", "badger")})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	log.Debug("badger store opened", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return s, nil
}

func dataKey(ns, key string) []byte {
	return []byte(badgerDataPrefix + ns + "/" + key)
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, ns, key string) (string, bool, error) {
	if err := s.check(ctx); err != nil {
		return "", false, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(ns, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("badger: get %s: %w", key, err)
	}
	return string(value), true, nil
}

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, ns, key, value string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dataKey(ns, key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger: put %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, ns, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dataKey(ns, key))
	})
	if err != nil {
		return fmt.Errorf("badger: delete %s: %w", key, err)
	}
	return nil
}

// ListKeys implements Store. Keys come back in byte order.
func (s *BadgerStore) ListKeys(ctx context.Context, ns, prefix string) ([]KeyItem, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	base := string(dataKey(ns, ""))
	var items []KeyItem
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = dataKey(ns, prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			items = append(items, KeyItem{
				Name:       strings.TrimPrefix(string(item.Key()), base),
				Expiration: int64(item.ExpiresAt()),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list %s: %w", prefix, err)
	}
	return items, nil
}

// ListNamespaces implements NamespaceManager.
func (s *BadgerStore) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []Namespace
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerNamespacePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			title, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Namespace{
				ID:    strings.TrimPrefix(string(item.Key()), badgerNamespacePrefix),
				Title: string(title),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list namespaces: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateNamespace implements NamespaceManager. Ids are lowercase ULIDs.
func (s *BadgerStore) CreateNamespace(ctx context.Context, title string) (*Namespace, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("badger: namespace title cannot be empty")
	}
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	ns := &Namespace{ID: strings.ToLower(ulid.Make().String()), Title: title}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerNamespacePrefix+ns.ID), []byte(title))
	})
	if err != nil {
		return nil, fmt.Errorf("badger: create namespace: %w", err)
	}
	s.logger.Info("namespace created", "namespace", ns.ID, "title", title)
	return ns, nil
}

// VerifyCredential implements NamespaceManager. The local store has no
// credentials and is always active.
func (s *BadgerStore) VerifyCredential(ctx context.Context) (*CredentialStatus, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return &CredentialStatus{ID: "local", Status: "active"}, nil
}

// GC runs value log garbage collection until nothing is rewritten.
func (s *BadgerStore) GC() (int, error) {
	runs := 0
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return runs, nil
		}
		if err != nil {
			return runs, fmt.Errorf("badger: gc: %w", err)
		}
		runs++
	}
}

// Close gracefully shuts down the store.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badger: close db: %w", err)
	}
	s.logger.Debug("badger store closed")
	return nil
}

func (s *BadgerStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// gcLoop runs periodic garbage collection.
func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)
	if s.cfg.GCInterval <= 0 || s.cfg.InMemory {
		<-s.stopCh
		return
	}

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if runs, err := s.GC(); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			} else if runs > 0 {
				s.logger.Debug("gc completed", "runs", runs)
			}
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts logger.Logger to Badger's Logger interface.
// Badger's info output is chatty, so it is logged at debug level.
type badgerLogger struct {
	logger logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

var _ Backend = (*BadgerStore)(nil)
