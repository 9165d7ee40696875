package labelstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/endwaste/db-of-objects/internal/geometry"
	"github.com/endwaste/db-of-objects/internal/task"
)

const taskColumns = `shard, identity_key, source_uri, bbox, crop_uri, embedding_id,
	incoming_metadata, similar_metadata, similar_uri, similar_flag,
	labeled, difficult, labeler_name, in_progress, updated_at`

// PGStore implements Store on PostgreSQL. The (shard, identity_key) pair
// is the primary key, so a shard change is a delete+insert; Move wraps
// the two statements in one transaction.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed task store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var t task.Task
	var coords []float64
	err := row.Scan(
		&t.Shard, &t.IdentityKey, &t.SourceURI, &coords, &t.CropURI, &t.EmbeddingID,
		&t.IncomingMetadata, &t.SimilarMetadata, &t.SimilarURI, &t.SimilarFlag,
		&t.Labeled, &t.Difficult, &t.LabelerName, &t.InProgress, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(coords) == 4 {
		t.Box = geometry.BoundingBox{XMin: coords[0], YMin: coords[1], XMax: coords[2], YMax: coords[3]}
	}
	return &t, nil
}

// Get fetches the record at (shard, key).
func (s *PGStore) Get(ctx context.Context, shard task.Shard, key string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM labeling_tasks
		WHERE shard = $1 AND identity_key = $2
	`, shard, key)

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, so the upsert can
// run standalone or inside the Move transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func putTask(ctx context.Context, db execer, t *task.Task) error {
	_, err := db.Exec(ctx, `
		INSERT INTO labeling_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (shard, identity_key) DO UPDATE SET
			source_uri = EXCLUDED.source_uri,
			bbox = EXCLUDED.bbox,
			crop_uri = EXCLUDED.crop_uri,
			embedding_id = EXCLUDED.embedding_id,
			incoming_metadata = EXCLUDED.incoming_metadata,
			similar_metadata = EXCLUDED.similar_metadata,
			similar_uri = EXCLUDED.similar_uri,
			similar_flag = EXCLUDED.similar_flag,
			labeled = EXCLUDED.labeled,
			difficult = EXCLUDED.difficult,
			labeler_name = EXCLUDED.labeler_name,
			in_progress = EXCLUDED.in_progress,
			updated_at = EXCLUDED.updated_at
	`,
		t.Shard, t.IdentityKey, t.SourceURI, t.Box.Coords(), t.CropURI, t.EmbeddingID,
		t.IncomingMetadata, t.SimilarMetadata, t.SimilarURI, t.SimilarFlag,
		t.Labeled, t.Difficult, t.LabelerName, t.InProgress, t.UpdatedAt,
	)
	return err
}

// Put inserts or replaces the record within its shard.
func (s *PGStore) Put(ctx context.Context, t *task.Task) error {
	if err := putTask(ctx, s.pool, t); err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

// Delete removes the record at (shard, key).
func (s *PGStore) Delete(ctx context.Context, shard task.Shard, key string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM labeling_tasks WHERE shard = $1 AND identity_key = $2
	`, shard, key)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// List returns every record in the shard.
func (s *PGStore) List(ctx context.Context, shard task.Shard) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM labeling_tasks
		WHERE shard = $1
		ORDER BY identity_key
	`, shard)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Lookup searches both shards for the first record matching any key.
func (s *PGStore) Lookup(ctx context.Context, keys []string) (*task.Task, error) {
	for _, key := range keys {
		for _, shard := range task.Shards {
			t, err := s.Get(ctx, shard, key)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return nil, ErrNotFound
}

// Move deletes the source record and inserts the replacement in a single
// transaction, so a crash cannot lose the record between the two writes.
func (s *PGStore) Move(ctx context.Context, fromShard task.Shard, fromKey string, to *task.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin move: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM labeling_tasks WHERE shard = $1 AND identity_key = $2
	`, fromShard, fromKey); err != nil {
		return fmt.Errorf("move delete: %w", err)
	}
	if err := putTask(ctx, tx, to); err != nil {
		return fmt.Errorf("move insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}
	return nil
}
