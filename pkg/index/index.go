package index

import (
	"context"
	"time"
)

// Payload is the data stored alongside a vector. Text and CreatedAt are
// immutable once inserted; Metadata may be replaced through an explicit
// update on implementations that support it.
type Payload struct {
	// Text is the original memory content
	Text string

	// Metadata is an open key-value mapping supplied by the caller
	Metadata map[string]interface{}

	// CreatedAt is when the record was created, used for tie-breaking
	CreatedAt time.Time
}

// Entry is one vector with its payload.
type Entry struct {
	// ID is unique across the whole index, not just the namespace
	ID string

	// Vector is the embedding, always of the configured dimensionality
	Vector []float32

	// Payload carries the record data
	Payload Payload
}

// Match is a search hit.
type Match struct {
	Entry

	// Score is the cosine similarity against the query vector, in [-1, 1]
	Score float64
}

// SearchOptions narrows a search beyond the namespace.
type SearchOptions struct {
	// Filters are metadata equality constraints; all must match
	Filters map[string]interface{}

	// MinScore drops matches scoring below the threshold
	MinScore float64
}

// VectorIndex is the storage contract shared by the in-process engine and
// the external pgvector adapter. The namespace parameter is mandatory on
// every operation; it carries the per-agent partition and is never
// defaulted, so agent isolation cannot be bypassed by omission.
//
// Ranking is cosine similarity, ties broken by most recent CreatedAt
// first, then by ID ascending, on every implementation.
type VectorIndex interface {
	// Insert adds an entry. It fails with ErrDimensionMismatch or
	// ErrDuplicateID without touching existing contents.
	Insert(ctx context.Context, namespace string, entry Entry) error

	// Search returns up to k matches ordered most-relevant first.
	// An empty namespace yields an empty result, not an error.
	Search(ctx context.Context, namespace string, vector []float32, k int, opts SearchOptions) ([]Match, error)

	// Get returns the entry with the given id, or ErrNotFound.
	Get(ctx context.Context, namespace, id string) (Entry, error)

	// Delete removes the entry with the given id. Deleting an absent id
	// returns ErrNotFound, which makes double-deletion observable but
	// harmless.
	Delete(ctx context.Context, namespace, id string) error

	// List returns all ids in the namespace.
	List(ctx context.Context, namespace string) ([]string, error)

	// Clear removes every entry in the namespace and reports how many.
	Clear(ctx context.Context, namespace string) (int, error)

	// Namespaces returns the namespaces that currently hold at least one
	// entry.
	Namespaces(ctx context.Context) ([]string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// MetadataUpdater is implemented by indexes that can replace an entry's
// metadata in place without re-inserting the vector.
type MetadataUpdater interface {
	UpdateMetadata(ctx context.Context, namespace, id string, metadata map[string]interface{}) error
}
