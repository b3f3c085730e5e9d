package teamsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEngine_Create(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	n, err := h.notes.Create(ctx, note{
		Meta:  Meta{ID: "ignored", Version: 42},
		Title: "Draft",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if n.ID != "note-001" {
		t.Errorf("ID = %q, want generated note-001", n.ID)
	}
	if n.Version != 1 {
		t.Errorf("Version = %d, want 1", n.Version)
	}
	if !n.CreatedAt.Equal(h.clock.Now()) || !n.UpdatedAt.Equal(h.clock.Now()) {
		t.Errorf("timestamps = %v / %v, want %v", n.CreatedAt, n.UpdatedAt, h.clock.Now())
	}
	if n.IsDeleted {
		t.Error("new record is deleted")
	}

	all, _ := h.notes.GetAll(ctx)
	if len(all) != 1 || all[0].Title != "Draft" {
		t.Errorf("GetAll = %+v, want the created record", all)
	}

	entries := mustEntries(t, h.queue)
	if len(entries) != 1 {
		t.Fatalf("queue holds %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Operation != OpCreate || e.Collection != "notes" || e.DocumentID != n.ID {
		t.Errorf("entry = %+v, want CREATE notes/%s", e, n.ID)
	}
	if e.Payload["title"] != "Draft" {
		t.Errorf("payload title = %v, want Draft", e.Payload["title"])
	}
	if _, ok := e.Payload["id"]; ok {
		t.Error("payload carries id")
	}
}

func TestEngine_CreateWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.setFail(func(string, string, Fields) error { return errRemoteDown })
	engine := NewEngine[note]("notes", h.store, h.queue, h.drainer, h.remote, WithEngineLogger(testLogger()))

	n, err := engine.Create(ctx, note{Title: "offline"})
	if err != nil {
		t.Fatalf("Create with failing remote returned %v, want nil", err)
	}
	h.drainer.Wait()

	got, _ := engine.GetByID(ctx, n.ID)
	if got == nil || got.Title != "offline" {
		t.Errorf("GetByID = %+v, want the local record", got)
	}
}

func TestEngine_UpdateVersionsIncrease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	n := mustCreate(t, h.notes, note{Title: "v1"})
	created := n.CreatedAt

	for want := int64(2); want <= 6; want++ {
		h.clock.Advance(time.Minute)
		got, err := h.notes.Update(ctx, n.ID, Patch{"count": want})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if got.Version != want {
			t.Fatalf("Version = %d, want %d", got.Version, want)
		}
		if !got.UpdatedAt.Equal(h.clock.Now()) {
			t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, h.clock.Now())
		}
		if !got.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt changed to %v", got.CreatedAt)
		}
	}

	entries := mustEntries(t, h.queue)
	if len(entries) != 6 {
		t.Fatalf("queue holds %d entries, want 6", len(entries))
	}
	for i, e := range entries[1:] {
		if e.Operation != OpUpdate {
			t.Errorf("entry %d operation = %s, want UPDATE", i+1, e.Operation)
		}
		if v, _ := toInt64(e.Payload["version"]); v != int64(i+2) {
			t.Errorf("entry %d payload version = %v, want %d", i+1, e.Payload["version"], i+2)
		}
	}
}

func TestEngine_UpdateShallowMerge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	n := mustCreate(t, h.notes, note{Title: "keep", Body: "old"})
	got, err := h.notes.Update(ctx, n.ID, Patch{
		"body":      "new",
		"id":        "hijack",
		"version":   99,
		"createdAt": "1999-01-01T00:00:00Z",
		"extra":     "kept",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.ID != n.ID || got.Version != 2 || !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("managed fields changed: %+v", got.Meta)
	}
	if got.Title != "keep" || got.Body != "new" {
		t.Errorf("merge result title=%q body=%q", got.Title, got.Body)
	}

	doc, _ := h.notes.Table().Get(ctx, n.ID)
	if doc.Fields["extra"] != "kept" {
		t.Errorf("extra field = %v, want kept", doc.Fields["extra"])
	}
	if doc2, _ := h.notes.Table().Get(ctx, "hijack"); doc2 != nil {
		t.Error("patch id created a new document")
	}
}

func TestEngine_UpdateAbsent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	got, err := h.notes.Update(ctx, "missing", Patch{"title": "x"})
	if err != nil || got != nil {
		t.Errorf("Update(missing) = %+v, %v; want nil, nil", got, err)
	}
	if n, _ := h.queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestEngine_UpdateValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	n := mustCreate(t, h.notes, note{Title: "ok"})
	_, err := h.notes.Update(ctx, n.ID, Patch{"count": "not a number"})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Update with bad type = %v, want *ValidationError", err)
	}
	got, _ := h.notes.GetByID(ctx, n.ID)
	if got.Version != 1 {
		t.Errorf("failed update changed version to %d", got.Version)
	}
}

func TestEngine_Mutate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	n := mustCreate(t, h.notes, note{Title: "t", Count: 1})
	got, err := h.notes.Mutate(ctx, n.ID, func(v *note) { v.Count++ })
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if got.Count != 2 || got.Version != 2 {
		t.Errorf("Mutate result count=%d version=%d, want 2, 2", got.Count, got.Version)
	}

	if got, err := h.notes.Mutate(ctx, "missing", func(*note) {}); got != nil || err != nil {
		t.Errorf("Mutate(missing) = %+v, %v; want nil, nil", got, err)
	}
}

func TestEngine_MutateDeletedIsNil(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	n, err := h.notes.Create(ctx, note{Title: "t"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := h.notes.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	called := false
	got, err := h.notes.Mutate(ctx, n.ID, func(*note) { called = true })
	if got != nil || err != nil {
		t.Errorf("Mutate(deleted) = %+v, %v; want nil, nil", got, err)
	}
	if called {
		t.Error("fn called for a deleted record")
	}
}

func TestEngine_MutateSerializesWithDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	n, err := h.notes.Create(ctx, note{Title: "draft"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entered := make(chan struct{})
	deleted := make(chan bool, 1)
	go func() {
		<-entered
		ok, err := h.notes.Delete(ctx, n.ID)
		if err != nil {
			t.Errorf("Delete failed: %v", err)
		}
		deleted <- ok
	}()

	_, err = h.notes.Mutate(ctx, n.ID, func(v *note) {
		close(entered)
		time.Sleep(20 * time.Millisecond)
		v.Title = "edited"
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if ok := <-deleted; !ok {
		t.Fatal("Delete reported missing record")
	}

	doc, err := h.store.Table("notes").Get(ctx, n.ID)
	if err != nil || doc == nil {
		t.Fatalf("Get = %v, %v", doc, err)
	}
	if !doc.IsDeleted {
		t.Error("record resurrected by Mutate")
	}
	if doc.Version != 3 {
		t.Errorf("version = %d, want 3", doc.Version)
	}
	if doc.Fields["title"] != "edited" {
		t.Errorf("title = %v, want edited", doc.Fields["title"])
	}
}

func TestEngine_MutateClearsFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tasks := NewEngine[Task](CollectionTasks, h.store, h.queue, nil, h.remote,
		WithEngineLogger(testLogger()), WithClock(h.clock.Now))

	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	task, err := tasks.Create(ctx, Task{Title: "t", TopicID: "topic-1", DueDate: &due, Quadrant: QuadrantUrgentImportant, Status: TaskTodo})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := tasks.Mutate(ctx, task.ID, func(v *Task) {
		v.DueDate = nil
		v.TopicID = ""
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if got.DueDate != nil || got.TopicID != "" {
		t.Errorf("Mutate result dueDate=%v topicId=%q, want cleared", got.DueDate, got.TopicID)
	}

	stored, err := tasks.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.DueDate != nil || stored.TopicID != "" || stored.Version != 2 {
		t.Errorf("stored dueDate=%v topicId=%q version=%d", stored.DueDate, stored.TopicID, stored.Version)
	}
	if stored.Title != "t" {
		t.Errorf("title = %q, want t", stored.Title)
	}
}

func TestEngine_SoftDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	keep := mustCreate(t, h.notes, note{Title: "keep"})
	gone := mustCreate(t, h.notes, note{Title: "gone"})

	existed, err := h.notes.Delete(ctx, gone.ID)
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v; want true, nil", existed, err)
	}

	doc, _ := h.notes.Table().Get(ctx, gone.ID)
	if doc == nil || !doc.IsDeleted || doc.Version != 2 {
		t.Errorf("stored doc = %+v, want deleted at version 2", doc)
	}
	if got, _ := h.notes.GetByID(ctx, gone.ID); got != nil {
		t.Error("GetByID returned a deleted record")
	}
	all, _ := h.notes.GetAll(ctx)
	if len(all) != 1 || all[0].ID != keep.ID {
		t.Errorf("GetAll = %+v, want only %s", all, keep.ID)
	}
	matched, _ := h.notes.Query(ctx, PredicateFunc[note](func(note) bool { return true }))
	if len(matched) != 1 {
		t.Errorf("Query matched %d records, want 1", len(matched))
	}

	entries := mustEntries(t, h.queue)
	last := entries[len(entries)-1]
	if last.Operation != OpUpdate || last.Payload["isDeleted"] != true {
		t.Errorf("delete entry = %+v, want UPDATE with isDeleted", last)
	}

	existed, err = h.notes.Delete(ctx, "missing")
	if err != nil || existed {
		t.Errorf("Delete(missing) = %v, %v; want false, nil", existed, err)
	}
}

func TestEngine_QueryAndWhere(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mustCreate(t, h.notes, note{Title: "a", Count: 1})
	mustCreate(t, h.notes, note{Title: "b", Count: 5})
	mustCreate(t, h.notes, note{Title: "c", Count: 9})

	big, err := h.notes.Query(ctx, PredicateFunc[note](func(n note) bool { return n.Count > 3 }))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(big) != 2 {
		t.Errorf("Query matched %d, want 2", len(big))
	}

	notB := And[note](
		PredicateFunc[note](func(n note) bool { return n.Count > 3 }),
		Not[note](PredicateFunc[note](func(n note) bool { return n.Title == "b" })),
	)
	got, _ := h.notes.Query(ctx, notB)
	if len(got) != 1 || got[0].Title != "c" {
		t.Errorf("And/Not matched %+v, want c", got)
	}

	where, err := h.notes.Where(ctx, Where("count", OpGte, 5), Where("title", OpNe, "c"))
	if err != nil {
		t.Fatalf("Where failed: %v", err)
	}
	if len(where) != 1 || where[0].Title != "b" {
		t.Errorf("Where = %+v, want b", where)
	}

	if _, err := h.notes.Where(ctx, Where("count", "~", 1)); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Where with bad op = %v, want ErrInvalidFilter", err)
	}
}

func TestEngine_RealtimeRemoteWinsOnHigherVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mustPut(t, h.store.Table("notes"), Fields{"id": "x", "version": 3, "title": "local"})

	if err := h.notes.StartRealtimeSync(ctx, Where("isDeleted", OpEq, false)); err != nil {
		t.Fatalf("StartRealtimeSync failed: %v", err)
	}

	h.remote.push(t, "notes", Fields{"id": "x", "version": 2, "title": "older"})
	h.remote.push(t, "notes", Fields{"id": "x", "version": 3, "title": "equal"})
	got, _ := h.notes.GetByID(ctx, "x")
	if got.Version != 3 || got.Title != "local" {
		t.Errorf("after stale snapshots got v%d %q, want v3 local", got.Version, got.Title)
	}

	h.remote.push(t, "notes", Fields{"id": "x", "version": 5, "title": "remote"})
	got, _ = h.notes.GetByID(ctx, "x")
	if got.Version != 5 || got.Title != "remote" {
		t.Errorf("after newer snapshot got v%d %q, want v5 remote", got.Version, got.Title)
	}
}

func TestEngine_RealtimeInsertsUnknownRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.notes.StartRealtimeSync(ctx); err != nil {
		t.Fatalf("StartRealtimeSync failed: %v", err)
	}

	h.remote.push(t, "notes",
		Fields{"id": "r1", "version": 1, "title": "one", "updatedAt": time.Now().UTC()},
		Fields{"id": "r2", "version": 4, "title": "two"},
	)

	all, _ := h.notes.GetAll(ctx)
	if len(all) != 2 {
		t.Errorf("GetAll = %d records, want 2", len(all))
	}
	if n, _ := h.queue.Len(ctx); n != 0 {
		t.Errorf("merging remote records queued %d entries, want 0", n)
	}
}

func TestEngine_StaleSnapshotDuringPendingUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mustPut(t, h.store.Table("notes"), Fields{"id": "x", "version": 2, "title": "base"})
	if err := h.notes.StartRealtimeSync(ctx); err != nil {
		t.Fatalf("StartRealtimeSync failed: %v", err)
	}

	got, err := h.notes.Update(ctx, "x", Patch{"title": "A"})
	if err != nil || got.Version != 3 {
		t.Fatalf("Update = %+v, %v; want version 3", got, err)
	}
	if n, _ := h.queue.Len(ctx); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}

	h.remote.push(t, "notes", Fields{"id": "x", "version": 2, "title": "base"})

	got, _ = h.notes.GetByID(ctx, "x")
	if got.Version != 3 || got.Title != "A" {
		t.Errorf("after stale snapshot got v%d %q, want v3 A", got.Version, got.Title)
	}
}

func TestEngine_DeferPendingPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("version policy overwrites pending", func(t *testing.T) {
		h := newHarness(t)
		mustPut(t, h.store.Table("notes"), Fields{"id": "x", "version": 2, "title": "base"})
		if err := h.notes.StartRealtimeSync(ctx); err != nil {
			t.Fatalf("StartRealtimeSync failed: %v", err)
		}
		mustUpdate(t, h.notes, "x", Patch{"title": "mine"})

		h.remote.push(t, "notes", Fields{"id": "x", "version": 4, "title": "theirs"})

		got, _ := h.notes.GetByID(ctx, "x")
		if got.Title != "theirs" {
			t.Errorf("title = %q, want theirs", got.Title)
		}
	})

	t.Run("defer-pending keeps pending", func(t *testing.T) {
		h := newHarness(t, WithConflictPolicy(ConflictPolicyDeferPending))
		mustPut(t, h.store.Table("notes"), Fields{"id": "x", "version": 2, "title": "base"})
		if err := h.notes.StartRealtimeSync(ctx); err != nil {
			t.Fatalf("StartRealtimeSync failed: %v", err)
		}
		mustUpdate(t, h.notes, "x", Patch{"title": "mine"})

		h.remote.push(t, "notes", Fields{"id": "x", "version": 4, "title": "theirs"})
		got, _ := h.notes.GetByID(ctx, "x")
		if got.Title != "mine" {
			t.Errorf("title = %q, want mine while pending", got.Title)
		}

		mustDrain(t, h.drainer)
		h.remote.push(t, "notes", Fields{"id": "x", "version": 4, "title": "merged"})
		got, _ = h.notes.GetByID(ctx, "x")
		if got.Title != "merged" {
			t.Errorf("title = %q, want merged after delivery", got.Title)
		}
	})
}

func TestEngine_StartRealtimeSyncErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if err := h.notes.StartRealtimeSync(ctx, Where("", OpEq, 1)); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("empty field = %v, want ErrInvalidFilter", err)
	}

	offline := NewEngine[note]("notes", h.store, h.queue, nil, nil)
	if err := offline.StartRealtimeSync(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no remote = %v, want ErrNotConfigured", err)
	}
	if _, err := offline.FetchFromRemote(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("FetchFromRemote without remote = %v, want ErrNotConfigured", err)
	}
}

func TestEngine_StopRealtimeSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.notes.StopRealtimeSync()

	if err := h.notes.StartRealtimeSync(ctx); err != nil {

		t.Fatalf("StartRealtimeSync failed: %v", err)

	}
	if !h.notes.Subscribed() || !h.remote.subscribed("notes") {
		t.Fatal("subscription not active after start")
	}
	h.notes.StopRealtimeSync()
	if h.notes.Subscribed() || h.remote.subscribed("notes") {
		t.Error("subscription still active after stop")
	}
	h.notes.StopRealtimeSync()
}

func TestEngine_FetchFromRemote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mustPut(t, h.store.Table("notes"), Fields{"id": "mine", "version": 7, "title": "local wins", "owner": "u1"})
	h.remote.docs["notes"] = []Fields{
		{"id": "mine", "version": 3, "title": "older", "owner": "u1", "isDeleted": false},
		{"id": "new", "version": 1, "title": "fresh", "owner": "u1", "isDeleted": false},
		{"id": "gone", "version": 2, "title": "deleted", "owner": "u1", "isDeleted": true},
		{"id": "other", "version": 1, "title": "not mine", "owner": "u2", "isDeleted": false},
	}

	got, err := h.notes.FetchFromRemote(ctx, Where("owner", OpEq, "u1"))
	if err != nil {
		t.Fatalf("FetchFromRemote failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FetchFromRemote returned %d records, want 2", len(got))
	}
	byID := map[string]note{}
	for _, n := range got {
		byID[n.ID] = n
	}
	if byID["mine"].Title != "local wins" {
		t.Errorf("mine title = %q, want local wins", byID["mine"].Title)
	}
	if byID["new"].Title != "fresh" {
		t.Errorf("new title = %q, want fresh", byID["new"].Title)
	}

	doc, _ := h.notes.Table().Get(ctx, "gone")
	if doc == nil || !doc.IsDeleted {
		t.Error("deleted remote record not stored locally")
	}
}
