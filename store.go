package teamsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/hyperengineering/teamsync/internal/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

const (
	tableDocuments = "documents"
	tableQueue     = "sync_queue"
	tableSyncMeta  = "sync_meta"
	tableMetadata  = "metadata"
)

const metaLastSync = "last_sync"

// sqlb builds statements with SQLite's "?" placeholders.
var sqlb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// Store manages the local SQLite database holding documents of every
// collection, the sync queue and sync metadata.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewStore opens or creates a local store at path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations.FS)
	if err != nil {
		return fmt.Errorf("store: create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	query, args, err := sqlb.Insert(tableMetadata).
		Options("OR IGNORE").
		Columns("key", "value").
		Values("schema_version", schemaVersion).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Table returns the document table for a collection.
func (s *Store) Table(collection string) *Table {
	return &Table{store: s, collection: collection}
}

// Table is the per-collection view of the document table.
type Table struct {
	store      *Store
	collection string
}

// Collection returns the collection name the table is scoped to.
func (t *Table) Collection() string { return t.collection }

// Get returns the stored document, or nil when absent.
func (t *Table) Get(ctx context.Context, id string) (*Document, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if t.store.closed {
		return nil, ErrStoreClosed
	}
	return getDocument(ctx, t.store.db, t.collection, id)
}

// Put inserts or replaces a document. The record must carry an id.
func (t *Table) Put(ctx context.Context, rec Fields) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.store.closed {
		return ErrStoreClosed
	}
	return putDocument(ctx, t.store.db, t.collection, rec)
}

// Delete physically removes a document. Removing an absent id is a no-op.
func (t *Table) Delete(ctx context.Context, id string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.store.closed {
		return ErrStoreClosed
	}

	query, args, err := sqlb.Delete(tableDocuments).
		Where(squirrel.Eq{"collection": t.collection, "id": id}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.store.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", t.collection, id, err)
	}
	return nil
}

// All returns every document in the collection, soft-deleted ones included,
// ordered by id.
func (t *Table) All(ctx context.Context) ([]Document, error) {
	return t.list(ctx, nil)
}

// Live returns the documents that are not soft-deleted, ordered by id.
func (t *Table) Live(ctx context.Context) ([]Document, error) {
	return t.list(ctx, squirrel.Eq{"is_deleted": 0})
}

// Filter returns every document for which keep returns true.
func (t *Table) Filter(ctx context.Context, keep func(Document) bool) ([]Document, error) {
	docs, err := t.All(ctx)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (t *Table) list(ctx context.Context, extra squirrel.Sqlizer) ([]Document, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if t.store.closed {
		return nil, ErrStoreClosed
	}

	sel := sqlb.Select("body").
		From(tableDocuments).
		Where(squirrel.Eq{"collection": t.collection}).
		OrderBy("id ASC")
	if extra != nil {
		sel = sel.Where(extra)
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := t.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", t.collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return nil, fmt.Errorf("store: %s: %w", t.collection, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// putAndEnqueue writes rec and appends its queue entry in one transaction,
// so a local write never exists without the mutation that delivers it.
func (s *Store) putAndEnqueue(ctx context.Context, collection string, rec Fields, op Operation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if err := putDocument(ctx, tx, collection, rec); err != nil {
		return 0, err
	}

	payload := rec.Clone()
	delete(payload, keyID)
	seq, err := insertQueueEntry(ctx, tx, collection, rec.ID(), op, payload, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return seq, nil
}

// SetMetadata stores a key/value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	query, args, err := sqlb.Insert(tableMetadata).
		Options("OR REPLACE").
		Columns("key", "value").
		Values(key, value).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// GetMetadata returns a metadata value. The second result is false when the
// key is unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrStoreClosed
	}

	query, args, err := sqlb.Select("value").From(tableMetadata).Where(squirrel.Eq{"key": key}).ToSql()
	if err != nil {
		return "", false, err
	}
	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetLastSynced records a successful delivery time for each collection and
// for the store as a whole.
func (s *Store) SetLastSynced(ctx context.Context, at time.Time, collections ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stamp := at.UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	ins := sqlb.Insert(tableSyncMeta).Options("OR REPLACE").Columns("collection", "last_synced_at")
	for _, c := range collections {
		ins = ins.Values(c, stamp)
	}
	if len(collections) > 0 {
		query, args, err := ins.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: set last synced: %w", err)
		}
	}

	query, args, err := sqlb.Insert(tableMetadata).
		Options("OR REPLACE").
		Columns("key", "value").
		Values(metaLastSync, stamp).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: set last sync: %w", err)
	}
	return tx.Commit()
}

// LastSynced returns the last successful delivery time per collection.
func (s *Store) LastSynced(ctx context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query, args, err := sqlb.Select("collection", "last_synced_at").From(tableSyncMeta).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: read sync metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var collection, stamp string
		if err := rows.Scan(&collection, &stamp); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return nil, fmt.Errorf("store: sync metadata for %s: %w", collection, err)
		}
		out[collection] = t
	}
	return out, rows.Err()
}

// ClearLocalData removes every document, queue entry and sync timestamp.
// The schema version is kept.
func (s *Store) ClearLocalData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	deletes := []squirrel.DeleteBuilder{
		sqlb.Delete(tableDocuments),
		sqlb.Delete(tableQueue),
		sqlb.Delete(tableSyncMeta),
		sqlb.Delete(tableMetadata).Where(squirrel.NotEq{"key": "schema_version"}),
	}
	for _, del := range deletes {
		query, args, err := del.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: clear local data: %w", err)
		}
	}
	return tx.Commit()
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := &StoreStats{Documents: make(map[string]int), SchemaVersion: schemaVersion}

	query, args, err := sqlb.Select("collection", "is_deleted", "COUNT(*)").
		From(tableDocuments).
		GroupBy("collection", "is_deleted").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: count documents: %w", err)
	}
	for rows.Next() {
		var (
			collection string
			deleted    bool
			n          int
		)
		if err := rows.Scan(&collection, &deleted, &n); err != nil {
			rows.Close()
			return nil, err
		}
		if deleted {
			stats.Deleted += n
			continue
		}
		stats.Documents[collection] = n
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	query, args, err = sqlb.Select("COUNT(*)").From(tableQueue).ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.PendingSync); err != nil {
		return nil, err
	}

	query, args, err = sqlb.Select("value").From(tableMetadata).Where(squirrel.Eq{"key": metaLastSync}).ToSql()
	if err != nil {
		return nil, err
	}
	var lastSync sql.NullString
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&lastSync)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if lastSync.Valid {
		stats.LastSync, _ = time.Parse(time.RFC3339Nano, lastSync.String)
	}

	return stats, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q execer, collection, id string) (*Document, error) {
	query, args, err := sqlb.Select("body").
		From(tableDocuments).
		Where(squirrel.Eq{"collection": collection, "id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var body string
	err = q.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", collection, id, err)
	}
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", collection, err)
	}
	return &doc, nil
}

func putDocument(ctx context.Context, q execer, collection string, rec Fields) error {
	doc, err := documentFromFields(rec)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", collection, err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", collection, doc.ID, err)
	}

	query, args, err := sqlb.Insert(tableDocuments).
		Options("OR REPLACE").
		Columns("collection", "id", "version", "is_deleted", "updated_at", "body").
		Values(collection, doc.ID, doc.Version, doc.IsDeleted, doc.UpdatedAt.UTC().Format(time.RFC3339Nano), string(body)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: put %s/%s: %w", collection, doc.ID, err)
	}
	return nil
}

func decodeDocument(body string) (Document, error) {
	var f Fields
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	return documentFromFields(f)
}

// mergeOutcome is the result of offering a remote record to a table.
type mergeOutcome int

const (
	mergeApplied mergeOutcome = iota
	mergeStale
	mergeDeferred
)

func (o mergeOutcome) String() string {
	switch o {
	case mergeApplied:
		return "applied"
	case mergeStale:
		return "stale"
	case mergeDeferred:
		return "deferred"
	}
	return "unknown"
}

// mergeRemote replaces the local document with rec when no local copy exists
// or rec carries a strictly higher version. With deferPending set, documents
// that still have queued mutations are left alone. The comparison and the
// write happen under the store's write lock.
func (t *Table) mergeRemote(ctx context.Context, rec Fields, deferPending bool) (mergeOutcome, error) {
	incoming, err := documentFromFields(rec)
	if err != nil {
		return 0, fmt.Errorf("store: merge %s: %w", t.collection, err)
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	local, err := getDocument(ctx, s.db, t.collection, incoming.ID)
	if err != nil {
		return 0, err
	}
	if local != nil && incoming.Version <= local.Version {
		return mergeStale, nil
	}

	if deferPending {
		query, args, err := sqlb.Select("COUNT(*)").
			From(tableQueue).
			Where(squirrel.Eq{"collection": t.collection, "document_id": incoming.ID}).
			ToSql()
		if err != nil {
			return 0, err
		}
		var pending int
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&pending); err != nil {
			return 0, fmt.Errorf("store: count pending %s/%s: %w", t.collection, incoming.ID, err)
		}
		if pending > 0 {
			return mergeDeferred, nil
		}
	}

	if err := putDocument(ctx, s.db, t.collection, rec); err != nil {
		return 0, err
	}
	return mergeApplied, nil
}
