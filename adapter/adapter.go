// Package adapter defines the abstract document-store capability consumed
// by configstore: keyed upsert, conditional upsert with a predicate, bulk
// upsert, predicate-based delete, and predicate-based paginated query
// returning a lazy, scoped sequence of documents. Concrete drivers live in
// sibling packages (mongoadapter, memoryadapter); configstore never imports
// them directly.
package adapter

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// DocumentKey is the deterministic, opaque identity of the "latest" slot
// for one (tenant, namespace, resource, context) tuple.
type DocumentKey string

// KeyedDocument pairs a DocumentKey with the raw document to write, used by
// BulkUpsert to preserve the caller's ordering through to the result.
type KeyedDocument struct {
	Key      DocumentKey
	Document bson.M
}

// SortDirection is the direction of a QuerySpec sort key.
type SortDirection int

const (
	Ascending  SortDirection = 1
	Descending SortDirection = -1
)

// SortKey is one field of a QuerySpec's sort order, applied in slice order.
type SortKey struct {
	Field     string
	Direction SortDirection
}

// QuerySpec describes a predicate-based paginated query.
type QuerySpec struct {
	Predicate Predicate
	Sort      []SortKey
	Offset    int64
	// Limit <= 0 means unbounded.
	Limit int64
}

// Cursor is a lazy sequence of documents that owns a connection/cursor
// resource. Callers must Close it on every exit path - success, early
// break, and error - exactly as a file or a network connection would be.
type Cursor interface {
	// Next advances the cursor. It returns false at end-of-sequence or on
	// error; callers should check Err() after a false return.
	Next(ctx context.Context) bool
	// Decode unmarshals the current document into v.
	Decode(v any) error
	// Err returns the last error encountered by Next, if any.
	Err() error
	Close(ctx context.Context) error
}

// Adapter is the document-store capability consumed by configstore.
type Adapter interface {
	// Upsert replaces the document at key unconditionally.
	Upsert(ctx context.Context, key DocumentKey, doc bson.M) error
	// Update replaces the document at key only if the existing document
	// matches pred; updatedCount is 0 if no document matched.
	Update(ctx context.Context, key DocumentKey, doc bson.M, pred Predicate) (updatedCount int64, err error)
	// BulkUpsert writes every document or none, preserving the input
	// ordering of docs in any ordering-sensitive result the caller derives
	// from it.
	BulkUpsert(ctx context.Context, docs []KeyedDocument) error
	// Delete removes every document matching pred.
	Delete(ctx context.Context, pred Predicate) error
	// Query returns a lazy, scoped sequence of documents matching spec.
	Query(ctx context.Context, spec QuerySpec) (Cursor, error)
	// HealthCheck reports whether the underlying store is reachable.
	HealthCheck(ctx context.Context) error
}
