package teamsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
)

// Queue is the durable, append-only log of mutations awaiting delivery.
// Entries are ordered globally by sequence number across all collections.
type Queue struct {
	store  *Store
	logger *slog.Logger
}

// NewQueue returns the sync queue persisted in store.
func NewQueue(store *Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, logger: logger}
}

// Stage writes rec to the collection and appends its queue entry in a single
// transaction. The payload is a snapshot of rec without its id.
func (q *Queue) Stage(ctx context.Context, collection string, rec Fields, op Operation) (int64, error) {
	if !op.IsValid() {
		return 0, &ValidationError{Field: "operation", Message: fmt.Sprintf("unknown operation %q", op)}
	}
	seq, err := q.store.putAndEnqueue(ctx, collection, rec, op)
	if err != nil {
		return 0, err
	}
	q.logger.Debug("queued mutation",
		"seq", seq,
		"collection", collection,
		"document_id", rec.ID(),
		"operation", op)
	return seq, nil
}

// Enqueue appends an entry with retry count zero and the current time.
func (q *Queue) Enqueue(ctx context.Context, collection, documentID string, op Operation, payload Fields) (int64, error) {
	if !op.IsValid() {
		return 0, &ValidationError{Field: "operation", Message: fmt.Sprintf("unknown operation %q", op)}
	}

	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	snapshot := payload.Clone()
	delete(snapshot, keyID)
	seq, err := insertQueueEntry(ctx, s.db, collection, documentID, op, snapshot, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	q.logger.Debug("queued mutation",
		"seq", seq,
		"collection", collection,
		"document_id", documentID,
		"operation", op)
	return seq, nil
}

// Entries returns every queued entry, oldest first.
func (q *Queue) Entries(ctx context.Context) ([]QueueEntry, error) {
	s := q.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query, args, err := sqlb.Select("seq", "collection", "document_id", "operation", "payload", "created_at", "retry_count").
		From(tableQueue).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: list entries: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var (
			e         QueueEntry
			op        string
			payload   string
			createdAt string
		)
		if err := rows.Scan(&e.Seq, &e.Collection, &e.DocumentID, &op, &payload, &createdAt, &e.RetryCount); err != nil {
			return nil, err
		}
		e.Operation = Operation(op)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("queue: decode entry %d: %w", e.Seq, err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Remove deletes an entry. Removing an entry that is already gone is a no-op.
func (q *Queue) Remove(ctx context.Context, seq int64) error {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	query, args, err := sqlb.Delete(tableQueue).Where(squirrel.Eq{"seq": seq}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("queue: remove %d: %w", seq, err)
	}
	return nil
}

// RecordFailure increments the retry count of an entry and returns the new
// count. found is false when the entry has already been removed.
func (q *Queue) RecordFailure(ctx context.Context, seq int64) (count int, found bool, err error) {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false, ErrStoreClosed
	}

	query, args, err := sqlb.Update(tableQueue).
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Where(squirrel.Eq{"seq": seq}).
		Suffix("RETURNING retry_count").
		ToSql()
	if err != nil {
		return 0, false, err
	}
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("queue: record failure %d: %w", seq, err)
	}
	return count, true, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.count(ctx, nil)
}

// Pending returns the number of queued entries for one document.
func (q *Queue) Pending(ctx context.Context, collection, documentID string) (int, error) {
	return q.count(ctx, squirrel.Eq{"collection": collection, "document_id": documentID})
}

func (q *Queue) count(ctx context.Context, where squirrel.Sqlizer) (int, error) {
	s := q.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	sel := sqlb.Select("COUNT(*)").From(tableQueue)
	if where != nil {
		sel = sel.Where(where)
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: count: %w", err)
	}
	return n, nil
}

func insertQueueEntry(ctx context.Context, q execer, collection, documentID string, op Operation, payload Fields, now time.Time) (int64, error) {
	if payload == nil {
		payload = Fields{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("queue: encode payload: %w", err)
	}

	query, args, err := sqlb.Insert(tableQueue).
		Columns("collection", "document_id", "operation", "payload", "created_at", "retry_count").
		Values(collection, documentID, string(op), string(body), now.Format(time.RFC3339Nano), 0).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue: %w", err)
	}
	return res.LastInsertId()
}
