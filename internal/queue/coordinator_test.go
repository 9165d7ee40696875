package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endwaste/db-of-objects/internal/geometry"
	"github.com/endwaste/db-of-objects/internal/identity"
	"github.com/endwaste/db-of-objects/internal/labelstore"
	"github.com/endwaste/db-of-objects/internal/task"
)

const testSourceURI = "s3://raw-images/robot-7/frame_000123.jpg"

var testBox = geometry.BoundingBox{XMin: 100.4, YMin: 150.6, XMax: 400.2, YMax: 600.9}

func newTestCoordinator(t *testing.T) (*Coordinator, *labelstore.MemStore, *time.Time) {
	t.Helper()
	store := labelstore.NewMemStore()
	coord := NewCoordinator(store, zerolog.Nop())

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := &now
	coord.now = func() time.Time { return *clock }
	return coord, store, clock
}

func TestClaimOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates a claimed task on first sight", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		created, wasNew, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)
		assert.True(t, wasNew)
		assert.Equal(t, task.ShardUnlabeled, created.Shard)
		assert.Equal(t, identity.CanonicalKey(testSourceURI, testBox), created.IdentityKey)
		assert.True(t, created.InProgress)
		assert.False(t, created.Labeled)

		stored, err := store.Get(ctx, task.ShardUnlabeled, created.IdentityKey)
		require.NoError(t, err)
		assert.True(t, stored.InProgress)
	})

	t.Run("Reclaims an existing task", func(t *testing.T) {
		coord, _, _ := newTestCoordinator(t)

		first, _, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)

		second, wasNew, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)
		assert.False(t, wasNew)
		assert.Equal(t, first.IdentityKey, second.IdentityKey)
	})

	t.Run("Finds a record stored under the legacy key", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		legacy := &task.Task{
			Shard:       task.ShardUnlabeled,
			IdentityKey: identity.LegacyKey(testSourceURI, testBox),
			SourceURI:   testSourceURI,
			Box:         testBox,
			CropURI:     "s3://crops/frame_000123_abc.jpg",
		}
		require.NoError(t, store.Put(ctx, legacy))

		got, wasNew, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)
		assert.False(t, wasNew)
		assert.Equal(t, legacy.IdentityKey, got.IdentityKey)
		assert.Equal(t, "s3://crops/frame_000123_abc.jpg", got.CropURI)
	})
}

func TestListTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("Counts and summaries", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		require.NoError(t, store.Put(ctx, &task.Task{
			Shard: task.ShardUnlabeled, IdentityKey: "a", SourceURI: "s3://b/a.jpg", Box: testBox,
		}))
		require.NoError(t, store.Put(ctx, &task.Task{
			Shard: task.ShardLabeled, IdentityKey: "b", SourceURI: "s3://b/b.jpg", Box: testBox, Labeled: true,
		}))

		result, err := coord.ListTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, result.TotalCrops)
		assert.Equal(t, 1, result.TotalLabeled)
		assert.Len(t, result.Crops, 2)
	})

	t.Run("Releases expired claims", func(t *testing.T) {
		coord, store, clock := newTestCoordinator(t)

		_, _, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)

		// Ten minutes is still inside the window.
		*clock = clock.Add(10 * time.Minute)
		result, err := coord.ListTasks(ctx)
		require.NoError(t, err)
		stored, err := store.Get(ctx, task.ShardUnlabeled, identity.CanonicalKey(testSourceURI, testBox))
		require.NoError(t, err)
		assert.True(t, stored.InProgress)
		assert.Equal(t, 1, result.TotalCrops)

		// Eleven minutes is past it.
		*clock = clock.Add(time.Minute)
		_, err = coord.ListTasks(ctx)
		require.NoError(t, err)
		stored, err = store.Get(ctx, task.ShardUnlabeled, identity.CanonicalKey(testSourceURI, testBox))
		require.NoError(t, err)
		assert.False(t, stored.InProgress)
	})

	t.Run("Leaves claims with malformed timestamps alone", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		require.NoError(t, store.Put(ctx, &task.Task{
			Shard: task.ShardUnlabeled, IdentityKey: "bad", SourceURI: "s3://b/bad.jpg",
			Box: testBox, InProgress: true, UpdatedAt: "garbage",
		}))

		_, err := coord.ListTasks(ctx)
		require.NoError(t, err)

		stored, err := store.Get(ctx, task.ShardUnlabeled, "bad")
		require.NoError(t, err)
		assert.True(t, stored.InProgress, "malformed timestamp must not release the claim")
	})
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()

	incoming := map[string]any{"brand": "acme", "color": "red", "material": "plastic", "shape": "bottle"}
	matching := map[string]any{"brand": "acme", "color": "red", "material": "plastic", "shape": "bottle"}
	differing := map[string]any{"brand": "acme", "color": "blue", "material": "plastic", "shape": "bottle"}

	t.Run("Moves task to the labeled shard", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		created, _, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)

		got, err := coord.Finalize(ctx, FinalizeInput{
			SourceURI:        testSourceURI,
			Box:              testBox,
			LabelerName:      "dina",
			IncomingMetadata: incoming,
			SimilarMetadata:  matching,
			EmbeddingID:      "emb-1",
		})
		require.NoError(t, err)
		assert.Equal(t, task.ShardLabeled, got.Shard)
		assert.True(t, got.Labeled)
		assert.False(t, got.InProgress)
		assert.True(t, got.SimilarFlag)
		assert.Equal(t, "dina", got.LabelerName)
		assert.Equal(t, "emb-1", got.EmbeddingID)

		// The unlabeled record is gone; the labeled one exists.
		_, err = store.Get(ctx, task.ShardUnlabeled, created.IdentityKey)
		assert.ErrorIs(t, err, labelstore.ErrNotFound)
		_, err = store.Get(ctx, task.ShardLabeled, created.IdentityKey)
		assert.NoError(t, err)
	})

	t.Run("Computes similar flag false on attribute mismatch", func(t *testing.T) {
		coord, _, _ := newTestCoordinator(t)

		_, _, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)

		got, err := coord.Finalize(ctx, FinalizeInput{
			SourceURI:        testSourceURI,
			Box:              testBox,
			IncomingMetadata: incoming,
			SimilarMetadata:  differing,
		})
		require.NoError(t, err)
		assert.False(t, got.SimilarFlag)
	})

	t.Run("Retry after a finalize is an in-place update", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		_, _, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)

		_, err = coord.Finalize(ctx, FinalizeInput{SourceURI: testSourceURI, Box: testBox, LabelerName: "dina"})
		require.NoError(t, err)

		got, err := coord.Finalize(ctx, FinalizeInput{SourceURI: testSourceURI, Box: testBox, LabelerName: "maks"})
		require.NoError(t, err)
		assert.Equal(t, task.ShardLabeled, got.Shard)
		assert.Equal(t, "maks", got.LabelerName)

		labeled, err := store.List(ctx, task.ShardLabeled)
		require.NoError(t, err)
		assert.Len(t, labeled, 1)
	})

	t.Run("Unknown task returns ErrNotFound", func(t *testing.T) {
		coord, _, _ := newTestCoordinator(t)

		_, err := coord.Finalize(ctx, FinalizeInput{SourceURI: "s3://b/missing.jpg", Box: testBox})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Empty embedding id keeps the stored one", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		created, _, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)
		created.EmbeddingID = "emb-keep"
		require.NoError(t, store.Put(ctx, created))

		got, err := coord.Finalize(ctx, FinalizeInput{SourceURI: testSourceURI, Box: testBox})
		require.NoError(t, err)
		assert.Equal(t, "emb-keep", got.EmbeddingID)
	})
}

func TestUpdateEmbeddingRef(t *testing.T) {
	ctx := context.Background()

	t.Run("Patches the reference", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		created, _, err := coord.ClaimOrCreate(ctx, testSourceURI, testBox)
		require.NoError(t, err)

		require.NoError(t, coord.UpdateEmbeddingRef(ctx, testSourceURI, testBox, "emb-2"))

		stored, err := store.Get(ctx, task.ShardUnlabeled, created.IdentityKey)
		require.NoError(t, err)
		assert.Equal(t, "emb-2", stored.EmbeddingID)
	})

	t.Run("Unknown task returns ErrNotFound", func(t *testing.T) {
		coord, _, _ := newTestCoordinator(t)
		err := coord.UpdateEmbeddingRef(ctx, "s3://b/missing.jpg", testBox, "emb-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNextTask(t *testing.T) {
	ctx := context.Background()

	t.Run("Prefers unlabeled tasks", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		require.NoError(t, store.Put(ctx, &task.Task{
			Shard: task.ShardLabeled, IdentityKey: "done", SourceURI: "s3://b/done.jpg", Box: testBox, Labeled: true,
		}))
		require.NoError(t, store.Put(ctx, &task.Task{
			Shard: task.ShardUnlabeled, IdentityKey: "open", SourceURI: "s3://b/open.jpg", Box: testBox,
		}))

		next, err := coord.NextTask(ctx, "current")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "s3://b/open.jpg", next.SourceURI)
		assert.False(t, next.Labeled)
	})

	t.Run("Falls back to labeled tasks", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		require.NoError(t, store.Put(ctx, &task.Task{
			Shard: task.ShardLabeled, IdentityKey: "done", SourceURI: "s3://b/done.jpg", Box: testBox, Labeled: true,
		}))

		next, err := coord.NextTask(ctx, "current")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.True(t, next.Labeled)
	})

	t.Run("Excludes the current task", func(t *testing.T) {
		coord, store, _ := newTestCoordinator(t)

		require.NoError(t, store.Put(ctx, &task.Task{
			Shard: task.ShardUnlabeled, IdentityKey: "only", SourceURI: "s3://b/only.jpg", Box: testBox,
		}))

		next, err := coord.NextTask(ctx, "only")
		require.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("Empty store yields nil", func(t *testing.T) {
		coord, _, _ := newTestCoordinator(t)
		next, err := coord.NextTask(ctx, "anything")
		require.NoError(t, err)
		assert.Nil(t, next)
	})
}
