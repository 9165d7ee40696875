// Package labelstore is the durable record store for labeling tasks,
// keyed by (shard, identity key).
package labelstore

import (
	"context"
	"errors"

	"github.com/endwaste/db-of-objects/internal/task"
)

// ErrNotFound is returned when no record exists under any requested key.
var ErrNotFound = errors.New("labeling task not found")

// Store is the durable item store contract. Writes are unconditional
// (last write wins); there are no optimistic-concurrency tokens.
type Store interface {
	// Get fetches the record at (shard, key).
	Get(ctx context.Context, shard task.Shard, key string) (*task.Task, error)

	// Put inserts or replaces the record within its shard.
	Put(ctx context.Context, t *task.Task) error

	// Delete removes the record at (shard, key). Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, shard task.Shard, key string) error

	// List returns every record in the shard.
	List(ctx context.Context, shard task.Shard) ([]task.Task, error)

	// Lookup searches for the first record matching any of the given
	// identity keys, trying keys in order and, within a key, the
	// unlabeled shard before the labeled one. Returns ErrNotFound if
	// nothing matches.
	Lookup(ctx context.Context, keys []string) (*task.Task, error)

	// Move atomically removes the record at (fromShard, fromKey) and
	// inserts the replacement in its (different) shard.
	Move(ctx context.Context, fromShard task.Shard, fromKey string, to *task.Task) error
}
