package teamsync

import "context"

// RemoteStore is the remote document store the engines deliver to and
// subscribe against. Implementations must make CreateDocument and
// UpdateDocument idempotent: the drainer redelivers after ambiguous failures.
type RemoteStore interface {
	// CreateDocument writes record under record["id"]. The server stamps
	// createdAt and updatedAt.
	CreateDocument(ctx context.Context, collection string, record Fields) error

	// UpdateDocument merges record into the document keyed by record["id"],
	// creating it when absent.
	UpdateDocument(ctx context.Context, collection string, record Fields) error

	// QueryDocuments returns every document matching all filters. Timestamps
	// come back as time.Time.
	QueryDocuments(ctx context.Context, collection string, filters []Filter) ([]Fields, error)

	// SubscribeToQuery calls fn with the full matching set on every change
	// until the returned Unsubscribe is called or ctx is done.
	SubscribeToQuery(ctx context.Context, collection string, filters []Filter, fn SnapshotFunc) (Unsubscribe, error)
}

// SnapshotFunc receives a realtime snapshot.
type SnapshotFunc func(ctx context.Context, docs []Fields)

// Unsubscribe cancels a subscription. Calling it more than once is safe.
type Unsubscribe func()
