// Package vectorindex stores object embeddings and serves nearest
// neighbor queries over them.
package vectorindex

import "context"

// Match is one scored query result. Score is a similarity metric
// (higher = closer), passed through to callers unmodified.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Record is a stored vector with its metadata, as returned by Fetch.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Stats describes the index contents.
type Stats struct {
	VectorCount int `json:"vector_count"`
	Dimension   int `json:"dimension"`
}

// Index is the vector index contract.
type Index interface {
	// Upsert inserts or replaces the vector and metadata stored under id.
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error

	// Query returns up to topK matches ranked descending by score.
	Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error)

	// Fetch returns the stored records for the given ids; absent ids are
	// simply missing from the result map.
	Fetch(ctx context.Context, ids []string) (map[string]Record, error)

	// Delete removes the vector stored under id.
	Delete(ctx context.Context, id string) error

	// Describe reports index statistics.
	Describe(ctx context.Context) (Stats, error)
}
