// Package vector provides the vector store gateway: the record model shared
// by every backend and the Driver interface they implement.
package vector

import "context"

// Payload is the metadata stored next to each vector. It is everything the
// retrieval side needs to cite a passage without a second lookup.
type Payload struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
	Page       int    `json:"page_number,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Record is a single embedded passage.
type Record struct {
	// ID is the deterministic passage id. Upserting an existing ID replaces
	// the stored record.
	ID string

	// Vector is the passage embedding.
	Vector []float32

	Payload Payload
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	ID      string
	Payload Payload

	// Score represents the similarity score (higher = more similar).
	Score float32
}

// Filter restricts searches and deletes to a set of documents.
type Filter struct {
	DocumentIDs []string
}

// Empty reports whether the filter matches everything.
func (f *Filter) Empty() bool {
	return f == nil || len(f.DocumentIDs) == 0
}

// Driver handles storage and retrieval of passage embeddings.
type Driver interface {
	// EnsureCollection creates the backing collection when it does not exist
	// and checks that an existing one has the expected dimensionality.
	// Other methods call it lazily, so calling it up front is optional.
	EnsureCollection(ctx context.Context) error

	// Upsert stores records. A record with an existing ID replaces it.
	Upsert(ctx context.Context, records []Record) error

	// Search returns up to limit records nearest to vec, ordered as
	// SortResults orders them. A nil or empty filter searches everything.
	Search(ctx context.Context, vec []float32, limit int, filter *Filter) ([]QueryResult, error)

	// Delete removes every record matched by filter. An empty filter is
	// rejected with ErrEmptyFilter.
	Delete(ctx context.Context, filter Filter) error

	// Close releases any resources held by the driver.
	Close() error
}
