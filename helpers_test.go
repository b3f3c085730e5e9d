package teamsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var errRemoteDown = errors.New("remote unavailable")

type remoteCall struct {
	Op         string
	Collection string
	Record     Fields
}

// fakeRemote records every call and fails on demand.
type fakeRemote struct {
	mu    sync.Mutex
	calls []remoteCall
	fail  func(op, collection string, rec Fields) error
	docs  map[string][]Fields
	subs  map[string]SnapshotFunc
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: make(map[string][]Fields), subs: make(map[string]SnapshotFunc)}
}

func (r *fakeRemote) record(ctx context.Context, op, collection string, rec Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, remoteCall{Op: op, Collection: collection, Record: rec.Clone()})
	if r.fail != nil {
		return r.fail(op, collection, rec)
	}
	return nil
}

func (r *fakeRemote) CreateDocument(ctx context.Context, collection string, rec Fields) error {
	return r.record(ctx, "create", collection, rec)
}

func (r *fakeRemote) UpdateDocument(ctx context.Context, collection string, rec Fields) error {
	return r.record(ctx, "update", collection, rec)
}

func (r *fakeRemote) QueryDocuments(ctx context.Context, collection string, filters []Filter) ([]Fields, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Fields
	for _, d := range r.docs[collection] {
		if MatchAll(filters, d) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (r *fakeRemote) SubscribeToQuery(ctx context.Context, collection string, filters []Filter, fn SnapshotFunc) (Unsubscribe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[collection] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, collection)
	}, nil
}

// push delivers a snapshot to the collection's subscriber.
func (r *fakeRemote) push(t *testing.T, collection string, docs ...Fields) {
	t.Helper()
	r.mu.Lock()
	fn := r.subs[collection]
	r.mu.Unlock()
	if fn == nil {
		t.Fatalf("no subscription for %s", collection)
	}
	fn(context.Background(), docs)
}

func (r *fakeRemote) subscribed(collection string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[collection] != nil
}

func (r *fakeRemote) Calls() []remoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]remoteCall(nil), r.calls...)
}

func (r *fakeRemote) setFail(fn func(op, collection string, rec Fields) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fn
}

// staticConn is a Connectivity with a settable state.
type staticConn struct {
	mu     sync.Mutex
	online bool
}

func (c *staticConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *staticConn) set(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
}

type note struct {
	Meta
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Count int    `json:"count"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// harness wires one engine the way Client does, with a manual drainer.
type harness struct {
	store   *Store
	queue   *Queue
	drainer *Drainer
	remote  *fakeRemote
	conn    *staticConn
	notes   *Engine[note]
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newHarness builds an engine over a fake remote. The engine has no drainer,
// so nothing is delivered until the test calls h.drainer.Drain.
func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	store := newTestStore(t)
	queue := NewQueue(store, testLogger())
	remote := newFakeRemote()
	conn := &staticConn{online: true}
	drainer := NewDrainer(queue, remote, conn, DrainerConfig{Logger: testLogger()})
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}

	seq := 0
	base := []EngineOption{
		WithEngineLogger(testLogger()),
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("note-%03d", seq)
		}),
	}
	notes := NewEngine[note]("notes", store, queue, nil, remote, append(base, opts...)...)

	return &harness{
		store:   store,
		queue:   queue,
		drainer: drainer,
		remote:  remote,
		conn:    conn,
		notes:   notes,
		clock:   clock,
	}
}

func mustEntries(t *testing.T, q *Queue) []QueueEntry {
	t.Helper()
	entries, err := q.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	return entries
}

func mustEnqueue(t *testing.T, q *Queue, collection, id string, op Operation, payload Fields) int64 {
	t.Helper()
	seq, err := q.Enqueue(context.Background(), collection, id, op, payload)
	if err != nil {
		t.Fatalf("Enqueue(%s/%s) failed: %v", collection, id, err)
	}
	return seq
}

func mustStage(t *testing.T, q *Queue, collection string, rec Fields, op Operation) int64 {
	t.Helper()
	seq, err := q.Stage(context.Background(), collection, rec, op)
	if err != nil {
		t.Fatalf("Stage(%s/%s) failed: %v", collection, rec.ID(), err)
	}
	return seq
}

func mustPut(t *testing.T, table *Table, rec Fields) {
	t.Helper()
	if err := table.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put(%s) failed: %v", rec.ID(), err)
	}
}

func mustDrain(t *testing.T, d *Drainer) DrainResult {
	t.Helper()
	res, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	return res
}

func mustCreate[T any](t *testing.T, e *Engine[T], v T) *T {
	t.Helper()
	out, err := e.Create(context.Background(), v)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return out
}

func mustUpdate[T any](t *testing.T, e *Engine[T], id string, patch Patch) *T {
	t.Helper()
	out, err := e.Update(context.Background(), id, patch)
	if err != nil || out == nil {
		t.Fatalf("Update(%s) = %v, %v", id, out, err)
	}
	return out
}
