// Package memory provides an in-process document store implementing
// teamsync.RemoteStore. It backs tests and the development server.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hyperengineering/teamsync"
	"github.com/oklog/ulid/v2"
)

// ErrInjected is returned by writes failed through FailNext or FailFor
// when no explicit error was given.
var ErrInjected = errors.New("memory: injected failure")

// Call records one write received by the store.
type Call struct {
	Op         string
	Collection string
	DocumentID string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the server timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is an in-memory document store. Create replaces a document, Update
// merges into it (creating it when absent); both stamp server timestamps.
// Every write pushes the full matching result set to each subscription on
// the written collection.
type Store struct {
	mu     sync.Mutex
	docs   map[string]map[string]teamsync.Fields
	subs   map[string]*subscription
	calls  []Call
	now    func() time.Time
	logger *slog.Logger

	failNext  int
	failErr   error
	failByDoc map[string]error
}

type subscription struct {
	id         string
	collection string
	filters    []teamsync.Filter
	fn         teamsync.SnapshotFunc
	ctx        context.Context

	// deliverMu orders deliveries so a subscriber never sees an older
	// snapshot after a newer one.
	deliverMu sync.Mutex
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:      make(map[string]map[string]teamsync.Fields),
		subs:      make(map[string]*subscription),
		now:       time.Now,
		logger:    slog.Default(),
		failByDoc: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDocument stores rec under its id, replacing any existing document.
func (s *Store) CreateDocument(ctx context.Context, collection string, rec teamsync.Fields) error {
	return s.write(ctx, "create", collection, rec, func(_ teamsync.Fields, now time.Time) teamsync.Fields {
		doc := rec.Clone()
		doc["createdAt"] = now
		doc["updatedAt"] = now
		return doc
	})
}

// UpdateDocument merges rec into the stored document, creating it when absent.
func (s *Store) UpdateDocument(ctx context.Context, collection string, rec teamsync.Fields) error {
	return s.write(ctx, "update", collection, rec, func(existing teamsync.Fields, now time.Time) teamsync.Fields {
		doc := existing.Clone()
		for k, v := range rec {
			if k == "createdAt" && existing != nil {
				continue
			}
			doc[k] = v
		}
		if existing == nil {
			doc["createdAt"] = now
		}
		doc["updatedAt"] = now
		return doc
	})
}

func (s *Store) write(ctx context.Context, op, collection string, rec teamsync.Fields, apply func(existing teamsync.Fields, now time.Time) teamsync.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := rec.ID()
	if id == "" {
		return &teamsync.RemoteError{Operation: op, StatusCode: 400, Err: fmt.Errorf("document has no id")}
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Collection: collection, DocumentID: id})
	if err := s.injectedLocked(id); err != nil {
		s.mu.Unlock()
		return &teamsync.RemoteError{Operation: op, Err: err}
	}
	docs := s.docs[collection]
	if docs == nil {
		docs = make(map[string]teamsync.Fields)
		s.docs[collection] = docs
	}
	docs[id] = apply(docs[id], s.now().UTC())
	subs := s.subscribersLocked(collection)
	s.mu.Unlock()

	s.logger.Debug("document written", "op", op, "collection", collection, "document_id", id)
	s.notify(subs)
	return nil
}

func (s *Store) injectedLocked(id string) error {
	if err, ok := s.failByDoc[id]; ok {
		return err
	}
	if s.failNext > 0 {
		s.failNext--
		return s.failErr
	}
	return nil
}

// QueryDocuments returns the documents matching every filter, ordered by id.
func (s *Store) QueryDocuments(ctx context.Context, collection string, filters []teamsync.Filter) ([]teamsync.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := teamsync.ValidateFilters(filters); err != nil {
		return nil, &teamsync.RemoteError{Operation: "query", StatusCode: 400, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchLocked(collection, filters), nil
}

// SubscribeToQuery delivers the current matching set to fn before returning,
// then the full matching set after every write to collection. The
// subscription ends when the returned function is called or ctx is done.
func (s *Store) SubscribeToQuery(ctx context.Context, collection string, filters []teamsync.Filter, fn teamsync.SnapshotFunc) (teamsync.Unsubscribe, error) {
	if err := teamsync.ValidateFilters(filters); err != nil {
		return nil, &teamsync.RemoteError{Operation: "subscribe", StatusCode: 400, Err: err}
	}
	sub := &subscription{
		id:         ulid.Make().String(),
		collection: collection,
		filters:    append([]teamsync.Filter(nil), filters...),
		fn:         fn,
		ctx:        ctx,
	}

	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
	s.logger.Debug("subscription opened", "collection", collection, "subscription", sub.id)

	s.deliver(sub)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub.id)
			s.mu.Unlock()
			s.logger.Debug("subscription closed", "collection", collection, "subscription", sub.id)
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}, nil
}

func (s *Store) subscribersLocked(collection string) []*subscription {
	var out []*subscription
	for _, sub := range s.subs {
		if sub.collection == collection {
			out = append(out, sub)
		}
	}
	return out
}

func (s *Store) notify(subs []*subscription) {
	for _, sub := range subs {
		s.deliver(sub)
	}
}

func (s *Store) deliver(sub *subscription) {
	sub.deliverMu.Lock()
	defer sub.deliverMu.Unlock()

	s.mu.Lock()
	_, active := s.subs[sub.id]
	var docs []teamsync.Fields
	if active {
		docs = s.matchLocked(sub.collection, sub.filters)
	}
	s.mu.Unlock()

	if !active || sub.ctx.Err() != nil {
		return
	}
	sub.fn(sub.ctx, docs)
}

func (s *Store) matchLocked(collection string, filters []teamsync.Filter) []teamsync.Fields {
	docs := s.docs[collection]
	out := make([]teamsync.Fields, 0, len(docs))
	for _, d := range docs {
		if teamsync.MatchAll(filters, d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Seed stores documents as given, without server timestamps, and notifies
// subscribers. Existing documents with the same id are replaced.
func (s *Store) Seed(collection string, docs ...teamsync.Fields) {
	s.mu.Lock()
	m := s.docs[collection]
	if m == nil {
		m = make(map[string]teamsync.Fields)
		s.docs[collection] = m
	}
	for _, d := range docs {
		m[d.ID()] = d.Clone()
	}
	subs := s.subscribersLocked(collection)
	s.mu.Unlock()
	s.notify(subs)
}

// Get returns a copy of a stored document.
func (s *Store) Get(collection, id string) (teamsync.Fields, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[collection][id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Documents returns every document in collection, ordered by id.
func (s *Store) Documents(collection string) []teamsync.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchLocked(collection, nil)
}

// Collections returns the names of collections holding documents.
func (s *Store) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.docs))
	for name := range s.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calls returns the writes received so far, failed ones included.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Subscriptions returns the number of active subscriptions.
func (s *Store) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// FailNext makes the next n writes fail with err (ErrInjected when nil).
func (s *Store) FailNext(n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failErr = err
}

// FailFor makes every write of document id fail with err (ErrInjected when
// nil) until ClearFailures.
func (s *Store) FailFor(id string, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failByDoc[id] = err
}

// ClearFailures removes every injected failure.
func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = 0
	s.failErr = nil
	s.failByDoc = make(map[string]error)
}

var _ teamsync.RemoteStore = (*Store)(nil)
