package teamsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConflictPolicy decides how realtime snapshots interact with local
// mutations that have not been delivered yet.
type ConflictPolicy string

const (
	// ConflictPolicyVersion replaces a local record whenever the remote copy
	// has a strictly higher version, queued mutations notwithstanding.
	ConflictPolicyVersion ConflictPolicy = "version"

	// ConflictPolicyDeferPending additionally leaves a record untouched while
	// the queue still holds mutations for it. The next snapshot after
	// delivery brings the merged remote state.
	ConflictPolicyDeferPending ConflictPolicy = "defer-pending"
)

// IsValid reports whether p is a known policy.
func (p ConflictPolicy) IsValid() bool {
	return p == ConflictPolicyVersion || p == ConflictPolicyDeferPending
}

type engineConfig struct {
	logger *slog.Logger
	policy ConflictPolicy
	now    func() time.Time
	newID  func() string
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// WithConflictPolicy sets the snapshot merge policy.
func WithConflictPolicy(p ConflictPolicy) EngineOption {
	return func(c *engineConfig) { c.policy = p }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) { c.now = now }
}

// WithIDGenerator overrides how new document ids are minted.
func WithIDGenerator(fn func() string) EngineOption {
	return func(c *engineConfig) { c.newID = fn }
}

// Engine is the offline-first sync engine for one collection. T is a
// JSON-serializable struct that embeds Meta.
//
// Every mutation is written locally together with its queue entry before
// the call returns; delivery to the remote store happens in the background.
type Engine[T any] struct {
	collection string
	table      *Table
	queue      *Queue
	drainer    *Drainer
	remote     RemoteStore

	logger *slog.Logger
	policy ConflictPolicy
	now    func() time.Time
	newID  func() string

	// writeMu serializes read-modify-write cycles so versions never repeat.
	writeMu sync.Mutex

	subMu  sync.Mutex
	cancel Unsubscribe
}

// NewEngine creates the engine for collection. drainer and remote may be nil,
// in which case mutations stay queued and realtime sync is unavailable.
func NewEngine[T any](collection string, store *Store, queue *Queue, drainer *Drainer, remote RemoteStore, opts ...EngineOption) *Engine[T] {
	cfg := engineConfig{
		policy: ConflictPolicyVersion,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Engine[T]{
		collection: collection,
		table:      store.Table(collection),
		queue:      queue,
		drainer:    drainer,
		remote:     remote,
		logger:     cfg.logger.With("collection", collection),
		policy:     cfg.policy,
		now:        cfg.now,
		newID:      cfg.newID,
	}
}

// Collection returns the collection name.
func (e *Engine[T]) Collection() string { return e.collection }

// Table returns the underlying local table, soft-deleted records included.
func (e *Engine[T]) Table() *Table { return e.table }

// Create stores a new record with a fresh id, version 1 and both timestamps
// set to now. Any id, version or timestamps on input are ignored.
func (e *Engine[T]) Create(ctx context.Context, input T) (*T, error) {
	f, err := toFields(input)
	if err != nil {
		return nil, &ValidationError{Field: e.collection, Message: err.Error()}
	}
	delete(f, keyID)
	delete(f, keyVersion)
	delete(f, keyCreatedAt)
	delete(f, keyUpdatedAt)

	now := e.now().UTC()
	f[keyID] = e.newID()
	f[keyVersion] = 1
	f[keyCreatedAt] = now
	f[keyUpdatedAt] = now
	if _, ok := f[keyIsDeleted]; !ok {
		f[keyIsDeleted] = false
	}

	rec, err := canonical(f)
	if err != nil {
		return nil, err
	}

	e.writeMu.Lock()
	_, err = e.queue.Stage(ctx, e.collection, rec, OpCreate)
	e.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: create: %w", e.collection, err)
	}
	e.trigger()

	return fromFields[T](rec)
}

// Update shallow-merges patch onto the stored record, bumps its version and
// updatedAt, and returns the merged record. It returns nil without error
// when no record with id exists. Patch keys id, version and createdAt are
// ignored.
func (e *Engine[T]) Update(ctx context.Context, id string, patch Patch) (*T, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	current, err := e.table.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	return e.updateLocked(ctx, current, patch)
}

// updateLocked applies patch to current. The caller holds writeMu.
func (e *Engine[T]) updateLocked(ctx context.Context, current *Document, patch Patch) (*T, error) {
	id := current.ID
	merged := current.Fields.Clone()
	for k, v := range patch {
		switch k {
		case keyID, keyVersion, keyCreatedAt, keyUpdatedAt:
			continue
		}
		merged[k] = v
	}
	merged[keyID] = id
	merged[keyVersion] = current.Version + 1
	merged[keyUpdatedAt] = e.now().UTC()

	rec, err := canonical(merged)
	if err != nil {
		return nil, &ValidationError{Field: e.collection, Message: err.Error()}
	}
	out, err := fromFields[T](rec)
	if err != nil {
		return nil, &ValidationError{Field: e.collection, Message: err.Error()}
	}

	if _, err := e.queue.Stage(ctx, e.collection, rec, OpUpdate); err != nil {
		return nil, fmt.Errorf("%s: update %s: %w", e.collection, id, err)
	}
	e.trigger()

	return out, nil
}

// Mutate loads the record, applies fn to it and stores the result as an
// update. Fields fn clears are removed from the stored record. It returns
// nil without error when the record is absent or soft-deleted.
//
// Local writes to the collection wait until Mutate returns, so fn must not
// call back into the engine.
func (e *Engine[T]) Mutate(ctx context.Context, id string, fn func(*T)) (*T, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	doc, err := e.table.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.IsDeleted {
		return nil, nil
	}
	v, err := fromFields[T](doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", e.collection, id, err)
	}
	before, err := toFields(v)
	if err != nil {
		return nil, &ValidationError{Field: e.collection, Message: err.Error()}
	}
	fn(v)

	after, err := toFields(v)
	if err != nil {
		return nil, &ValidationError{Field: e.collection, Message: err.Error()}
	}
	patch := Patch(after)
	for k := range before {
		if _, ok := after[k]; !ok {
			patch[k] = nil
		}
	}
	return e.updateLocked(ctx, doc, patch)
}

// Delete soft-deletes the record. It reports whether the record existed.
func (e *Engine[T]) Delete(ctx context.Context, id string) (bool, error) {
	v, err := e.Update(ctx, id, Patch{keyIsDeleted: true})
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// GetByID returns the record, or nil when it is absent or soft-deleted.
func (e *Engine[T]) GetByID(ctx context.Context, id string) (*T, error) {
	doc, err := e.table.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.IsDeleted {
		return nil, nil
	}
	return e.decode(*doc)
}

// GetAll returns every record that is not soft-deleted, ordered by id.
func (e *Engine[T]) GetAll(ctx context.Context) ([]T, error) {
	docs, err := e.table.Live(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := e.decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// Query returns the records that are not soft-deleted and satisfy p.
func (e *Engine[T]) Query(ctx context.Context, p Predicate[T]) ([]T, error) {
	all, err := e.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, v := range all {
		if p.Match(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Where returns the records that are not soft-deleted and satisfy every
// filter, evaluated against the stored fields.
func (e *Engine[T]) Where(ctx context.Context, filters ...Filter) ([]T, error) {
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}
	docs, err := e.table.Live(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, d := range docs {
		if !MatchAll(filters, d.Fields) {
			continue
		}
		v, err := e.decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// StartRealtimeSync subscribes to remote changes matching filters and merges
// every snapshot into the local store. A running subscription is replaced.
// The subscription ends on StopRealtimeSync or when ctx is done.
func (e *Engine[T]) StartRealtimeSync(ctx context.Context, filters ...Filter) error {
	if e.remote == nil {
		return ErrNotConfigured
	}
	if err := ValidateFilters(filters); err != nil {
		return err
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.stopLocked()

	subCtx, cancel := context.WithCancel(ctx)
	unsub, err := e.remote.SubscribeToQuery(subCtx, e.collection, filters, e.applySnapshot)
	if err != nil {
		cancel()
		return fmt.Errorf("%s: subscribe: %w", e.collection, err)
	}
	var once sync.Once
	e.cancel = func() {
		once.Do(func() {
			unsub()
			cancel()
		})
	}
	e.logger.Info("realtime sync started", "filters", len(filters))
	return nil
}

// StopRealtimeSync cancels the subscription. It is a no-op when none is active.
func (e *Engine[T]) StopRealtimeSync() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.cancel != nil {
		e.logger.Info("realtime sync stopped")
	}
	e.stopLocked()
}

// Subscribed reports whether a realtime subscription is active.
func (e *Engine[T]) Subscribed() bool {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	return e.cancel != nil
}

func (e *Engine[T]) stopLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
}

// FetchFromRemote reads the matching documents once, merges them with the
// same rule as realtime snapshots and returns the local view of the fetched
// records that are not soft-deleted.
func (e *Engine[T]) FetchFromRemote(ctx context.Context, filters ...Filter) ([]T, error) {
	if e.remote == nil {
		return nil, ErrNotConfigured
	}
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}

	docs, err := e.remote.QueryDocuments(ctx, e.collection, filters)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch: %w", e.collection, err)
	}

	out := make([]T, 0, len(docs))
	for _, rec := range docs {
		id, err := e.merge(ctx, rec)
		if err != nil {
			return nil, err
		}
		v, err := e.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// ApplyRemote offers one remote record to the local store using the
// engine's conflict policy. It reports whether the local copy was replaced.
func (e *Engine[T]) ApplyRemote(ctx context.Context, rec Fields) (bool, error) {
	rec, err := canonical(rec)
	if err != nil {
		return false, err
	}
	e.writeMu.Lock()
	outcome, err := e.table.mergeRemote(ctx, rec, e.policy == ConflictPolicyDeferPending)
	e.writeMu.Unlock()
	if err != nil {
		return false, err
	}
	switch outcome {
	case mergeApplied:
		e.logger.Debug("merged remote record", "document_id", rec.ID())
	case mergeStale:
		e.logger.Debug("ignored stale remote record", "document_id", rec.ID())
	case mergeDeferred:
		e.logger.Debug("deferred remote record with pending mutations", "document_id", rec.ID())
	}
	return outcome == mergeApplied, nil
}

func (e *Engine[T]) merge(ctx context.Context, rec Fields) (string, error) {
	if _, err := e.ApplyRemote(ctx, rec); err != nil {
		return "", fmt.Errorf("%s: merge %s: %w", e.collection, rec.ID(), err)
	}
	return rec.ID(), nil
}

func (e *Engine[T]) applySnapshot(ctx context.Context, docs []Fields) {
	applied := 0
	for _, rec := range docs {
		ok, err := e.ApplyRemote(ctx, rec)
		if err != nil {
			e.logger.Warn("snapshot merge failed", "document_id", rec.ID(), "error", err)
			continue
		}
		if ok {
			applied++
		}
	}
	e.logger.Debug("applied snapshot", "documents", len(docs), "replaced", applied)
}

func (e *Engine[T]) decode(d Document) (*T, error) {
	v, err := fromFields[T](d.Fields)
	if err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", e.collection, d.ID, err)
	}
	return v, nil
}

func (e *Engine[T]) trigger() {
	if e.drainer != nil {
		e.drainer.Trigger()
	}
}
