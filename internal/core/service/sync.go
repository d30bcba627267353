package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/storage"
	"github.com/yndnr/cfenv-go/internal/storage/snapshot"
	"github.com/yndnr/cfenv-go/internal/telemetry/logger"
	"github.com/yndnr/cfenv-go/internal/telemetry/metric"
	"github.com/yndnr/cfenv-go/pkg/checksum"
)

// Engine implements the flat and snapshot sync protocols.
//
// Operations on one link run sequentially, one remote call at a time.
// Engine is safe for concurrent use if its store is.
type Engine struct {
	store        storage.Store
	logger       logger.Logger
	metrics      *metric.Registry
	now          func() time.Time
	newVersionID func(time.Time) string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics enables sync operation metrics.
func WithMetrics(m *metric.Registry) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithVersionIDFunc overrides snapshot version id generation.
func WithVersionIDFunc(fn func(time.Time) string) EngineOption {
	return func(e *Engine) { e.newVersionID = fn }
}

// NewEngine creates an Engine over store.
func NewEngine(store storage.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        store,
		logger:       logger.NewNop(),
		now:          time.Now,
		newVersionID: snapshot.NewVersionID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PushOptions controls a push.
type PushOptions struct {
	// UpdatedBy labels the actor in stored records.
	UpdatedBy string

	// Encrypt seals snapshot payloads. Ignored in flat mode.
	Encrypt bool
	Secret  string
	Seal    []snapshot.SealOption
}

// PushResult describes a completed push.
type PushResult struct {
	Mode         domain.StorageMode
	Checksum     string
	EntriesCount int
	UpdatedAt    time.Time
	UpdatedBy    string

	// Deleted lists flat variables removed because they were absent from
	// the pushed set.
	Deleted []string

	VersionID   string
	Encrypted   bool
	PayloadSize int
}

// PullOptions controls a pull.
type PullOptions struct {
	// VersionID selects a snapshot version. Empty means current.
	VersionID string
	Secret    string
}

// PullResult is a verified set of variables.
type PullResult struct {
	Mode      domain.StorageMode
	Entries   domain.Env
	Checksum  string
	VersionID string
	Encrypted bool
	UpdatedAt time.Time
	UpdatedBy string
}

// FlatState is flat-mode metadata together with the variables it
// describes, checksum-verified.
type FlatState struct {
	Metadata domain.FlatMetadata
	Entries  domain.Env
}

// Push writes entries to link using the link's storage mode.
func (e *Engine) Push(ctx context.Context, link domain.Link, entries domain.Env, opts PushOptions) (*PushResult, error) {
	var (
		res *PushResult
		err error
	)
	switch link.Mode {
	case domain.ModeFlat:
		res, err = e.PushFlat(ctx, link, entries, opts)
	case domain.ModeSnapshot:
		res, err = e.PushSnapshot(ctx, link, entries, opts)
	default:
		err = domain.ErrInvalidStorageMode.WithDetailsf("%q", link.Mode)
	}
	e.metrics.ObserveSync("push", string(link.Mode), err)
	return res, err
}

// Pull reads link using the link's storage mode.
func (e *Engine) Pull(ctx context.Context, link domain.Link, opts PullOptions) (*PullResult, error) {
	var (
		res *PullResult
		err error
	)
	switch link.Mode {
	case domain.ModeFlat:
		res, err = e.PullFlat(ctx, link)
	case domain.ModeSnapshot:
		res, err = e.PullSnapshot(ctx, link, opts)
	default:
		err = domain.ErrInvalidStorageMode.WithDetailsf("%q", link.Mode)
	}
	e.metrics.ObserveSync("pull", string(link.Mode), err)
	return res, err
}

// PushFlat writes one key per variable, deletes variables that are no
// longer present, writes metadata last and then removes any snapshot-mode
// keys of the same link.
//
// Every value is rewritten even when unchanged.
func (e *Engine) PushFlat(ctx context.Context, link domain.Link, entries domain.Env, opts PushOptions) (*PushResult, error) {
	if err := validatePush(link, entries); err != nil {
		return nil, err
	}
	log := e.log(ctx).With("target", link.Target(), "mode", domain.ModeFlat)
	prefix := link.VarsPrefix()

	existing, err := e.store.ListKeys(ctx, link.Namespace, prefix)
	if err != nil {
		return nil, fmt.Errorf("list flat keys: %w", err)
	}

	for _, name := range entries.Names() {
		if err := e.store.Put(ctx, link.Namespace, link.VarKey(name), entries[name]); err != nil {
			return nil, fmt.Errorf("write variable %s: %w", name, err)
		}
	}

	var deleted []string
	for _, item := range existing {
		name, ok := strings.CutPrefix(item.Name, prefix)
		if !ok {
			continue
		}
		if _, keep := entries[name]; keep {
			continue
		}
		if err := e.store.Delete(ctx, link.Namespace, item.Name); err != nil {
			return nil, fmt.Errorf("delete variable %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}

	now := e.timestamp()
	meta := domain.FlatMetadata{
		Schema:       domain.RecordSchema,
		Mode:         string(domain.ModeFlat),
		Checksum:     checksum.Sum(entries),
		UpdatedAt:    now,
		UpdatedBy:    opts.UpdatedBy,
		EntriesCount: len(entries),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, link.Namespace, link.MetaKey(), string(raw)); err != nil {
		return nil, fmt.Errorf("write flat metadata: %w", err)
	}

	e.removeSnapshotKeys(ctx, link, log)

	log.Info("flat push complete", "entries", len(entries), "deleted", len(deleted))
	return &PushResult{
		Mode:         domain.ModeFlat,
		Checksum:     meta.Checksum,
		EntriesCount: meta.EntriesCount,
		UpdatedAt:    now,
		UpdatedBy:    opts.UpdatedBy,
		Deleted:      deleted,
	}, nil
}

// removeSnapshotKeys deletes the snapshot pointer and every version of
// link. Failures are logged and ignored.
func (e *Engine) removeSnapshotKeys(ctx context.Context, link domain.Link, log logger.Logger) {
	BestEffort(log, "delete snapshot pointer", func() error {
		return e.store.Delete(ctx, link.Namespace, link.CurrentKey())
	})
	BestEffort(log, "list snapshot versions", func() error {
		items, err := e.store.ListKeys(ctx, link.Namespace, link.VersionsPrefix())
		if err != nil {
			return err
		}
		for _, item := range items {
			BestEffort(log, "delete snapshot version", func() error {
				return e.store.Delete(ctx, link.Namespace, item.Name)
			}, "key", item.Name)
		}
		return nil
	})
}

// PullFlat reads every flat variable of link. Values are returned as
// stored.
func (e *Engine) PullFlat(ctx context.Context, link domain.Link) (*PullResult, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}

	entries, keys, err := e.readFlatEntries(ctx, link)
	if err != nil {
		return nil, err
	}
	if keys == 0 {
		return nil, domain.ErrNoFlatEntries.WithDetailsf("%s, push once first", link.Target())
	}
	if len(entries) == 0 {
		return nil, domain.ErrNoFlatValues.WithDetails(link.Target())
	}

	e.log(ctx).Info("flat pull complete", "target", link.Target(), "entries", len(entries))
	return &PullResult{
		Mode:     domain.ModeFlat,
		Entries:  entries,
		Checksum: checksum.Sum(entries),
	}, nil
}

// FlatMetadata returns the flat metadata record of link, or nil when none
// has been written.
func (e *Engine) FlatMetadata(ctx context.Context, link domain.Link) (*domain.FlatMetadata, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}
	raw, found, err := e.store.Get(ctx, link.Namespace, link.MetaKey())
	if err != nil {
		return nil, fmt.Errorf("read flat metadata: %w", err)
	}
	if !found {
		return nil, nil
	}

	var meta domain.FlatMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, domain.ErrInvalidRecord.WithDetails("invalid flat metadata").WithCause(err)
	}
	return &meta, nil
}

// FetchFlatState reads flat metadata and variables and verifies that they
// agree. A mismatch usually means a push is in progress.
func (e *Engine) FetchFlatState(ctx context.Context, link domain.Link) (*FlatState, error) {
	meta, err := e.FlatMetadata(ctx, link)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, domain.ErrNoFlatMetadata.WithDetails(link.Target())
	}
	if !meta.Valid() {
		return nil, domain.ErrInvalidRecord.WithDetails("invalid flat metadata")
	}

	entries, _, err := e.readFlatEntries(ctx, link)
	if err != nil {
		return nil, err
	}
	if !checksum.Verify(entries, meta.Checksum) {
		return nil, domain.ErrChecksumMismatch.WithDetailsf("flat state of %s", link.Target())
	}
	return &FlatState{Metadata: *meta, Entries: entries}, nil
}

// readFlatEntries lists and fetches the flat variables of link. keys is
// the number of variable keys listed, which can exceed len(entries) when
// keys vanish between list and get.
func (e *Engine) readFlatEntries(ctx context.Context, link domain.Link) (entries domain.Env, keys int, err error) {
	prefix := link.VarsPrefix()
	items, err := e.store.ListKeys(ctx, link.Namespace, prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("list flat keys: %w", err)
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item.Name, prefix) {
			names = append(names, item.Name)
		}
	}
	sort.Strings(names)

	entries = make(domain.Env, len(names))
	for _, key := range names {
		value, found, err := e.store.Get(ctx, link.Namespace, key)
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", key, err)
		}
		if found {
			entries[strings.TrimPrefix(key, prefix)] = value
		}
	}
	return entries, len(names), nil
}

// PushSnapshot writes a new immutable snapshot version and then moves the
// current pointer to it. Older versions are kept.
func (e *Engine) PushSnapshot(ctx context.Context, link domain.Link, entries domain.Env, opts PushOptions) (*PushResult, error) {
	if err := validatePush(link, entries); err != nil {
		return nil, err
	}
	log := e.log(ctx).With("target", link.Target(), "mode", domain.ModeSnapshot)

	now := e.timestamp()
	snap := &domain.Snapshot{
		Schema:      domain.RecordSchema,
		VersionID:   e.newVersionID(now),
		Project:     link.Project,
		Environment: link.Environment,
		Checksum:    checksum.Sum(entries),
		UpdatedAt:   now,
		UpdatedBy:   opts.UpdatedBy,
		Entries:     entries.Clone(),
	}

	payload, err := snapshot.Encode(snap, snapshot.EncodeOptions{
		Encrypt: opts.Encrypt,
		Secret:  opts.Secret,
		Seal:    opts.Seal,
	})
	if err != nil {
		return nil, err
	}

	if err := e.store.Put(ctx, link.Namespace, link.VersionKey(snap.VersionID), payload); err != nil {
		return nil, fmt.Errorf("write snapshot %s: %w", snap.VersionID, err)
	}

	pointer := domain.CurrentPointer{
		Schema:       domain.RecordSchema,
		VersionID:    snap.VersionID,
		Checksum:     snap.Checksum,
		UpdatedAt:    now,
		UpdatedBy:    opts.UpdatedBy,
		EntriesCount: len(entries),
		Encrypted:    opts.Encrypt,
	}
	raw, err := json.Marshal(pointer)
	if err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, link.Namespace, link.CurrentKey(), string(raw)); err != nil {
		return nil, fmt.Errorf("write current pointer: %w", err)
	}

	log.Info("snapshot push complete", "version", snap.VersionID, "entries", len(entries), "encrypted", opts.Encrypt, "bytes", len(payload))
	return &PushResult{
		Mode:         domain.ModeSnapshot,
		Checksum:     snap.Checksum,
		EntriesCount: len(entries),
		UpdatedAt:    now,
		UpdatedBy:    opts.UpdatedBy,
		VersionID:    snap.VersionID,
		Encrypted:    opts.Encrypt,
		PayloadSize:  len(payload),
	}, nil
}

// CurrentPointer returns the snapshot pointer of link, or nil when none has
// been written.
func (e *Engine) CurrentPointer(ctx context.Context, link domain.Link) (*domain.CurrentPointer, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}
	raw, found, err := e.store.Get(ctx, link.Namespace, link.CurrentKey())
	if err != nil {
		return nil, fmt.Errorf("read current pointer: %w", err)
	}
	if !found {
		return nil, nil
	}

	var pointer domain.CurrentPointer
	if err := json.Unmarshal([]byte(raw), &pointer); err != nil {
		return nil, domain.ErrInvalidRecord.WithDetails("invalid current pointer").WithCause(err)
	}
	if pointer.VersionID == "" {
		return nil, domain.ErrInvalidRecord.WithDetails("current pointer has no version id")
	}
	return &pointer, nil
}

// PullSnapshot reads the requested snapshot version, or the current one,
// decrypting it when needed and verifying its checksum.
func (e *Engine) PullSnapshot(ctx context.Context, link domain.Link, opts PullOptions) (*PullResult, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}

	versionID := strings.TrimSpace(opts.VersionID)
	if versionID == "" {
		pointer, err := e.CurrentPointer(ctx, link)
		if err != nil {
			return nil, err
		}
		if pointer == nil {
			return nil, domain.ErrNoCurrentPointer.WithDetailsf("%s, push once first", link.Target())
		}
		versionID = pointer.VersionID
	}

	payload, found, err := e.store.Get(ctx, link.Namespace, link.VersionKey(versionID))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", versionID, err)
	}
	if !found {
		return nil, domain.ErrVersionNotFound.WithDetails(versionID)
	}

	snap, encrypted, err := snapshot.Decode(payload, opts.Secret)
	if err != nil {
		return nil, err
	}
	if !checksum.Verify(snap.Entries, snap.Checksum) {
		return nil, domain.ErrChecksumMismatch.WithDetailsf("snapshot %s", versionID)
	}

	e.log(ctx).Info("snapshot pull complete", "target", link.Target(), "version", versionID, "entries", len(snap.Entries), "encrypted", encrypted)
	return &PullResult{
		Mode:      domain.ModeSnapshot,
		Entries:   snap.Entries,
		Checksum:  snap.Checksum,
		VersionID: snap.VersionID,
		Encrypted: encrypted,
		UpdatedAt: snap.UpdatedAt,
		UpdatedBy: snap.UpdatedBy,
	}, nil
}

// History returns snapshot version ids of link, newest first. limit <= 0
// returns all of them.
func (e *Engine) History(ctx context.Context, link domain.Link, limit int) ([]string, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}
	prefix := link.VersionsPrefix()
	items, err := e.store.ListKeys(ctx, link.Namespace, prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshot versions: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := strings.CutPrefix(item.Name, prefix); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Millisecond)
}

func (e *Engine) log(ctx context.Context) logger.Logger {
	if id := logger.OperationIDFromContext(ctx); id != "" {
		return e.logger.With("op_id", id)
	}
	return e.logger
}

func validatePush(link domain.Link, entries domain.Env) error {
	if err := link.Validate(); err != nil {
		return err
	}
	return entries.Validate()
}
