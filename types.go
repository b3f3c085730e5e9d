package teamsync

import "time"

// Fields is a plain document record as exchanged with the remote document
// store. The "id" key carries the document key.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ID returns the document id, or "" when absent.
func (f Fields) ID() string {
	id, _ := f[keyID].(string)
	return id
}

// Patch is a set of top-level fields shallow-merged onto an existing record.
type Patch map[string]any

// Managed field names. These are owned by the sync engine.
const (
	keyID        = "id"
	keyVersion   = "version"
	keyCreatedAt = "createdAt"
	keyUpdatedAt = "updatedAt"
	keyIsDeleted = "isDeleted"
)

// Meta carries the synchronization fields every entity embeds.
type Meta struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsDeleted bool      `json:"isDeleted"`
}

// Operation is the kind of mutation recorded in the sync queue.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	// OpDelete is reserved. Soft deletes travel as OpUpdate with isDeleted=true.
	OpDelete Operation = "DELETE"
)

// IsValid reports whether op is a known operation kind.
func (op Operation) IsValid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// QueueEntry is a pending mutation waiting for delivery to the remote store.
type QueueEntry struct {
	Seq        int64     `json:"seq"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"document_id"`
	Operation  Operation `json:"operation"`
	Payload    Fields    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`
}

// Record returns the remote representation of the entry: the payload with
// the document id folded in.
func (e QueueEntry) Record() Fields {
	rec := e.Payload.Clone()
	rec[keyID] = e.DocumentID
	return rec
}

// Document is a locally stored record together with its indexed metadata.
type Document struct {
	ID        string
	Version   int64
	IsDeleted bool
	UpdatedAt time.Time
	Fields    Fields
}

// DrainResult summarizes one pass over the sync queue.
type DrainResult struct {
	Attempted int  `json:"attempted"`
	Delivered int  `json:"delivered"`
	Failed    int  `json:"failed"`
	Discarded int  `json:"discarded"`
	Skipped   bool `json:"skipped,omitempty"`
}

// Status is the aggregate sync state shown to users.
type Status struct {
	Online         bool                 `json:"online"`
	Syncing        bool                 `json:"syncing"`
	PendingChanges int                  `json:"pending_changes"`
	LastSyncedAt   time.Time            `json:"last_synced_at"`
	Collections    map[string]time.Time `json:"collections,omitempty"`
}

// StoreStats contains statistics about the local store.
type StoreStats struct {
	Documents     map[string]int `json:"documents"`
	Deleted       int            `json:"deleted"`
	PendingSync   int            `json:"pending_sync"`
	LastSync      time.Time      `json:"last_sync"`
	SchemaVersion string         `json:"schema_version"`
}

// DefaultMaxRetries is the number of failed delivery attempts after which a
// queue entry is discarded.
const DefaultMaxRetries = 5
