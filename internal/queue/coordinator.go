// Package queue owns the labeling task state machine.
//
// States: UNCLAIMED (unlabeled shard, in_progress=false) -> CLAIMED
// (unlabeled shard, in_progress=true) -> LABELED (labeled shard). A claim
// expires lazily: any reader that sees in_progress older than the claim
// expiry clears it. There is no transition out of LABELED.
//
// Claims are last-write-wins: two labelers claiming the same task both
// succeed and the later write prevails. The store offers no version
// tokens, so the coordinator does not pretend to mutual exclusion.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/endwaste/db-of-objects/internal/compare"
	"github.com/endwaste/db-of-objects/internal/geometry"
	"github.com/endwaste/db-of-objects/internal/identity"
	"github.com/endwaste/db-of-objects/internal/labelstore"
	"github.com/endwaste/db-of-objects/internal/task"
)

// ErrNotFound is returned when an operation requires an existing task and
// none exists under any key encoding in either shard.
var ErrNotFound = labelstore.ErrNotFound

// Coordinator implements the claim/list/expire/complete semantics over
// the labeling task collection.
type Coordinator struct {
	store  labelstore.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewCoordinator creates a task queue coordinator.
func NewCoordinator(store labelstore.Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{store: store, logger: logger, now: time.Now}
}

// ListResult is the /list projection: summaries plus aggregate counts.
type ListResult struct {
	Crops        []task.Summary `json:"crops"`
	TotalCrops   int            `json:"total_crops"`
	TotalLabeled int            `json:"total_labeled"`
}

// ListTasks reads every record in both shards and lazily releases
// expired claims, persisting each unlock. Records with malformed
// timestamps are logged and left untouched.
func (c *Coordinator) ListTasks(ctx context.Context) (*ListResult, error) {
	now := c.now()
	result := &ListResult{Crops: []task.Summary{}}

	for _, shard := range task.Shards {
		tasks, err := c.store.List(ctx, shard)
		if err != nil {
			return nil, err
		}
		for i := range tasks {
			t := &tasks[i]
			result.TotalCrops++
			if t.Labeled {
				result.TotalLabeled++
			}

			if t.InProgress {
				expired, err := task.ClaimExpired(now, t.UpdatedAt)
				if err != nil {
					c.logger.Warn().Err(err).Str("identity_key", t.IdentityKey).Str("updated_at", t.UpdatedAt).
						Msg("Malformed stored timestamp, leaving claim as-is")
				} else if expired {
					t.InProgress = false
					if err := c.store.Put(ctx, t); err != nil {
						return nil, err
					}
					c.logger.Info().Str("identity_key", t.IdentityKey).Msg("Released expired claim")
				}
			}

			result.Crops = append(result.Crops, task.Summarize(t))
		}
	}
	return result, nil
}

// ClaimOrCreate returns the task for (sourceURI, box), claiming it for
// the caller. Lookup tries the canonical key encoding first and the
// legacy integer-rounded one second, across both shards; a miss under
// every encoding creates a fresh claimed task in the unlabeled shard.
func (c *Coordinator) ClaimOrCreate(ctx context.Context, sourceURI string, box geometry.BoundingBox) (*task.Task, bool, error) {
	t, err := c.store.Lookup(ctx, identity.CandidateKeys(sourceURI, box))
	if err != nil && !errors.Is(err, labelstore.ErrNotFound) {
		return nil, false, err
	}

	created := false
	if t == nil {
		t = &task.Task{
			Shard:       task.ShardUnlabeled,
			IdentityKey: identity.CanonicalKey(sourceURI, box),
			SourceURI:   sourceURI,
			Box:         box,
		}
		created = true
	}

	t.InProgress = true
	t.UpdatedAt = task.Timestamp(c.now())
	if err := c.store.Put(ctx, t); err != nil {
		return nil, false, err
	}
	return t, created, nil
}

// Save persists in-place mutations made during the similarity phase
// (crop URI, matched neighbor) and refreshes the claim timestamp.
func (c *Coordinator) Save(ctx context.Context, t *task.Task) error {
	t.UpdatedAt = task.Timestamp(c.now())
	return c.store.Put(ctx, t)
}

// FinalizeInput carries a label submission.
type FinalizeInput struct {
	SourceURI        string
	Box              geometry.BoundingBox
	LabelerName      string
	Difficult        bool
	IncomingMetadata map[string]any
	SimilarMetadata  map[string]any
	EmbeddingID      string
}

// Finalize transitions a task to LABELED, computing the similar flag and
// moving the record into the labeled shard. Finalize never creates: a
// task absent under every key encoding returns ErrNotFound. A task
// already in the labeled shard is updated in place, which makes a retry
// after a partially applied finalize safe.
func (c *Coordinator) Finalize(ctx context.Context, in FinalizeInput) (*task.Task, error) {
	t, err := c.store.Lookup(ctx, identity.CandidateKeys(in.SourceURI, in.Box))
	if err != nil {
		return nil, err
	}

	fromShard, fromKey := t.Shard, t.IdentityKey

	t.Labeled = true
	t.InProgress = false
	t.LabelerName = in.LabelerName
	t.Difficult = in.Difficult
	t.IncomingMetadata = task.EncodeMetadata(in.IncomingMetadata)
	t.SimilarMetadata = task.EncodeMetadata(in.SimilarMetadata)
	t.SimilarFlag = compare.IsSimilar(in.IncomingMetadata, in.SimilarMetadata)
	if in.EmbeddingID != "" {
		t.EmbeddingID = in.EmbeddingID
	}
	t.UpdatedAt = task.Timestamp(c.now())
	t.Shard = task.ShardLabeled

	if fromShard == task.ShardLabeled {
		if err := c.store.Put(ctx, t); err != nil {
			return nil, err
		}
		return t, nil
	}
	if err := c.store.Move(ctx, fromShard, fromKey, t); err != nil {
		return nil, err
	}
	c.logger.Info().Str("identity_key", t.IdentityKey).Str("labeler", t.LabelerName).
		Bool("similar", t.SimilarFlag).Msg("Task labeled")
	return t, nil
}

// UpdateEmbeddingRef patches the task's embedding reference and refreshes
// its timestamp. No shard change. Returns ErrNotFound for unknown tasks.
func (c *Coordinator) UpdateEmbeddingRef(ctx context.Context, sourceURI string, box geometry.BoundingBox, embeddingID string) error {
	t, err := c.store.Lookup(ctx, identity.CandidateKeys(sourceURI, box))
	if err != nil {
		return err
	}
	t.EmbeddingID = embeddingID
	t.UpdatedAt = task.Timestamp(c.now())
	return c.store.Put(ctx, t)
}

// NextTask returns the next task to work on, skipping the record with
// the given identity key. Unlabeled tasks are preferred; if none remain,
// the first labeled task is offered instead. Returns nil when the
// collection holds no other task.
func (c *Coordinator) NextTask(ctx context.Context, excludeKey string) (*task.Summary, error) {
	var labeledFallback *task.Summary

	for _, shard := range task.Shards {
		tasks, err := c.store.List(ctx, shard)
		if err != nil {
			return nil, err
		}
		for i := range tasks {
			t := &tasks[i]
			if t.IdentityKey == excludeKey {
				continue
			}
			if !t.Labeled {
				s := task.Summarize(t)
				return &s, nil
			}
			if labeledFallback == nil {
				s := task.Summarize(t)
				labeledFallback = &s
			}
		}
	}
	return labeledFallback, nil
}
