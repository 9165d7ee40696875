package vectorindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGIndex implements Index on PostgreSQL with the pgvector extension.
// Scores are cosine similarity: 1 - cosine distance, so identical vectors
// score 1.0 and results rank descending.
type PGIndex struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPGIndex creates a pgvector-backed index. dim is the embedding
// dimension the objects table was created with.
func NewPGIndex(pool *pgxpool.Pool, dim int) *PGIndex {
	return &PGIndex{pool: pool, dim: dim}
}

// Upsert inserts or replaces the vector and metadata stored under id.
func (ix *PGIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	if len(vector) != ix.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector), ix.dim)
	}
	_, err := ix.pool.Exec(ctx, `
		INSERT INTO objects (id, embedding, metadata, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata
	`, id, pgvector.NewVector(vector), metadata)
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

// Query returns up to topK matches ranked descending by cosine similarity.
func (ix *PGIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT id, 1 - (embedding <=> $1) AS score, metadata
		FROM objects
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var metadata map[string]any
		if err := rows.Scan(&m.ID, &m.Score, &metadata); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if includeMetadata {
			m.Metadata = metadata
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Fetch returns the stored records for the given ids.
func (ix *PGIndex) Fetch(ctx context.Context, ids []string) (map[string]Record, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT id, embedding, metadata
		FROM objects
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch vectors: %w", err)
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var r Record
		var vec pgvector.Vector
		if err := rows.Scan(&r.ID, &vec, &r.Metadata); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Values = vec.Slice()
		records[r.ID] = r
	}
	return records, rows.Err()
}

// Delete removes the vector stored under id.
func (ix *PGIndex) Delete(ctx context.Context, id string) error {
	_, err := ix.pool.Exec(ctx, `DELETE FROM objects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

// Describe reports index statistics.
func (ix *PGIndex) Describe(ctx context.Context) (Stats, error) {
	var count int
	if err := ix.pool.QueryRow(ctx, `SELECT COUNT(*) FROM objects`).Scan(&count); err != nil {
		return Stats{}, fmt.Errorf("count vectors: %w", err)
	}
	return Stats{VectorCount: count, Dimension: ix.dim}, nil
}
