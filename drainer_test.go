package teamsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDrain_FIFOAcrossCollections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mustEnqueue(t, h.queue, "tasks", "A", OpUpdate, Fields{"title": "a"})
	mustEnqueue(t, h.queue, "topics", "B", OpCreate, Fields{"name": "b"})
	mustEnqueue(t, h.queue, "tasks", "C", OpCreate, Fields{"title": "c"})
	mustEnqueue(t, h.queue, "tasks", "A", OpUpdate, Fields{"title": "a2"})

	res, err := h.drainer.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Attempted != 4 || res.Delivered != 4 {
		t.Errorf("result = %+v, want 4 attempted and delivered", res)
	}

	calls := h.remote.Calls()
	want := []struct{ op, id string }{
		{"update", "A"}, {"create", "B"}, {"create", "C"}, {"update", "A"},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(calls), len(want))
	}
	for i, w := range want {
		if calls[i].Op != w.op || calls[i].Record.ID() != w.id {
			t.Errorf("call %d = %s %s, want %s %s", i, calls[i].Op, calls[i].Record.ID(), w.op, w.id)
		}
	}
	if calls[3].Record["title"] != "a2" {
		t.Errorf("last call title = %v, want a2", calls[3].Record["title"])
	}
	if n, _ := h.queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d after drain, want 0", n)
	}
}

func TestDrain_RetryCeiling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.setFail(func(string, string, Fields) error { return errRemoteDown })

	mustEnqueue(t, h.queue, "tasks", "doomed", OpCreate, Fields{"title": "x"})

	for pass := 1; pass <= DefaultMaxRetries; pass++ {
		res, err := h.drainer.Drain(ctx)
		if err != nil {
			t.Fatalf("pass %d: Drain failed: %v", pass, err)
		}
		entries := mustEntries(t, h.queue)
		if pass < DefaultMaxRetries {
			if len(entries) != 1 || entries[0].RetryCount != pass {
				t.Fatalf("pass %d: entries = %+v, want one with retry count %d", pass, entries, pass)
			}
			continue
		}
		if len(entries) != 0 {
			t.Fatalf("entry still queued after %d failures", pass)
		}
		if res.Discarded != 1 {
			t.Errorf("final pass Discarded = %d, want 1", res.Discarded)
		}
	}

	// No sixth attempt.
	mustDrain(t, h.drainer)
	if n := len(h.remote.Calls()); n != DefaultMaxRetries {
		t.Errorf("remote saw %d attempts, want %d", n, DefaultMaxRetries)
	}
}

func TestDrain_FailureDoesNotBlockLaterEntries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.setFail(func(_ string, _ string, rec Fields) error {
		if rec.ID() == "bad" {
			return errRemoteDown
		}
		return nil
	})

	mustEnqueue(t, h.queue, "tasks", "bad", OpCreate, nil)
	mustEnqueue(t, h.queue, "tasks", "good", OpCreate, nil)

	res, err := h.drainer.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Delivered != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 delivered, 1 failed", res)
	}
	entries := mustEntries(t, h.queue)
	if len(entries) != 1 || entries[0].DocumentID != "bad" {
		t.Errorf("remaining entries = %+v, want only bad", entries)
	}
}

func TestDrain_CustomRetryCeiling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.setFail(func(string, string, Fields) error { return errRemoteDown })
	d := NewDrainer(h.queue, h.remote, nil, DrainerConfig{MaxRetries: 2, Logger: testLogger()})

	mustEnqueue(t, h.queue, "tasks", "a", OpCreate, nil)
	mustDrain(t, d)
	mustDrain(t, d)

	if n, _ := h.queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d, want 0 after 2 failures with MaxRetries 2", n)
	}
}

func TestDrain_DeleteMakesNoRemoteCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mustEnqueue(t, h.queue, "tasks", "a", OpDelete, nil)

	if _, err := h.drainer.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if n := len(h.remote.Calls()); n != 0 {
		t.Errorf("remote saw %d calls, want 0", n)
	}
	if n, _ := h.queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestDrain_CancelledDoesNotCountFailure(t *testing.T) {
	h := newHarness(t)
	mustEnqueue(t, h.queue, "tasks", "a", OpCreate, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.drainer.Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Drain(cancelled) = %v, want context.Canceled", err)
	}
	entries := mustEntries(t, h.queue)
	if len(entries) != 1 || entries[0].RetryCount != 0 {
		t.Errorf("entries = %+v, want one untouched entry", entries)
	}
}

func TestDrain_RecordsLastSynced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mustEnqueue(t, h.queue, "tasks", "a", OpCreate, nil)
	mustDrain(t, h.drainer)

	synced, err := h.store.LastSynced(ctx)
	if err != nil {
		t.Fatalf("LastSynced failed: %v", err)
	}
	if synced["tasks"].IsZero() {
		t.Error("tasks last synced not recorded")
	}
	if _, ok := synced["topics"]; ok {
		t.Error("topics recorded without a delivery")
	}
}

func TestDrain_NoRemote(t *testing.T) {
	h := newHarness(t)
	d := NewDrainer(h.queue, nil, nil, DrainerConfig{Logger: testLogger()})

	if _, err := d.Drain(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Drain without remote = %v, want ErrNotConfigured", err)
	}
}

func TestTryDrain_OfflineSkips(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.conn.set(false)

	mustEnqueue(t, h.queue, "tasks", "a", OpCreate, nil)

	res, err := h.drainer.TryDrain(ctx)
	if err != nil {
		t.Fatalf("TryDrain failed: %v", err)
	}
	if !res.Skipped {
		t.Error("TryDrain offline did not report Skipped")
	}
	if n := len(h.remote.Calls()); n != 0 {
		t.Errorf("remote saw %d calls while offline, want 0", n)
	}

	h.conn.set(true)
	res, err = h.drainer.TryDrain(ctx)
	if err != nil {
		t.Fatalf("TryDrain failed: %v", err)
	}
	if res.Skipped || res.Delivered != 1 {
		t.Errorf("TryDrain online = %+v, want 1 delivered", res)
	}
}

func TestDrain_ConcurrentPassesDeliverOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for _, id := range []string{"a", "b", "c"} {
		mustEnqueue(t, h.queue, "tasks", id, OpCreate, nil)
	}

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			if _, err := h.drainer.TryDrain(ctx); err != nil {
				t.Errorf("TryDrain failed: %v", err)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	if n := len(h.remote.Calls()); n != 3 {
		t.Errorf("remote saw %d calls, want 3", n)
	}
}

func TestTrigger_DeliversInBackground(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mustEnqueue(t, h.queue, "tasks", "a", OpCreate, nil)
	for i := 0; i < 5; i++ {
		h.drainer.Trigger()
	}
	h.drainer.Wait()

	if n := len(h.remote.Calls()); n != 1 {
		t.Errorf("remote saw %d calls, want 1", n)
	}
	if n, _ := h.queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestTrigger_AfterStopIsIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.drainer.Stop()

	mustEnqueue(t, h.queue, "tasks", "a", OpCreate, nil)
	h.drainer.Trigger()
	h.drainer.Wait()

	if n, _ := h.queue.Len(ctx); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

// blockingRemote holds every delivery until released.
type blockingRemote struct {
	*fakeRemote
	release chan struct{}
}

func (r *blockingRemote) CreateDocument(ctx context.Context, collection string, rec Fields) error {
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.fakeRemote.CreateDocument(ctx, collection, rec)
}

func TestDrainer_Syncing(t *testing.T) {
	h := newHarness(t)
	remote := &blockingRemote{fakeRemote: h.remote, release: make(chan struct{})}
	d := NewDrainer(h.queue, remote, nil, DrainerConfig{Logger: testLogger()})

	mustEnqueue(t, h.queue, "tasks", "a", OpCreate, nil)
	d.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for !d.Syncing() {
		if time.Now().After(deadline) {
			t.Fatal("drainer never reported Syncing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(remote.release)
	d.Wait()

	if d.Syncing() {
		t.Error("Syncing true after pass finished")
	}
}
