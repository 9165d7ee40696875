package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations run in order on startup; every statement must be idempotent.
func migrations(embeddingDim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS labeling_tasks (
			shard             TEXT NOT NULL,
			identity_key      TEXT NOT NULL,
			source_uri        TEXT NOT NULL,
			bbox              DOUBLE PRECISION[] NOT NULL,
			crop_uri          TEXT NOT NULL DEFAULT '',
			embedding_id      TEXT NOT NULL DEFAULT '',
			incoming_metadata TEXT NOT NULL DEFAULT '',
			similar_metadata  TEXT NOT NULL DEFAULT '',
			similar_uri       TEXT NOT NULL DEFAULT '',
			similar_flag      BOOLEAN NOT NULL DEFAULT FALSE,
			labeled           BOOLEAN NOT NULL DEFAULT FALSE,
			difficult         BOOLEAN NOT NULL DEFAULT FALSE,
			labeler_name      TEXT NOT NULL DEFAULT '',
			in_progress       BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at        TEXT NOT NULL,
			PRIMARY KEY (shard, identity_key)
		)`,

		`CREATE INDEX IF NOT EXISTS labeling_tasks_source_uri_idx
			ON labeling_tasks (source_uri)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS objects (
			id         TEXT PRIMARY KEY,
			embedding  VECTOR(%d) NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, embeddingDim),

		`CREATE INDEX IF NOT EXISTS objects_embedding_idx
			ON objects USING hnsw (embedding vector_cosine_ops)`,
	}
}

// Migrate applies the schema. embeddingDim must match the deployed
// embedding model; changing it requires rebuilding the objects table.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDim int) error {
	for _, stmt := range migrations(embeddingDim) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
