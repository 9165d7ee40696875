package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endwaste/db-of-objects/internal/crop"
	"github.com/endwaste/db-of-objects/internal/embedding"
	"github.com/endwaste/db-of-objects/internal/geometry"
	"github.com/endwaste/db-of-objects/internal/labelstore"
	"github.com/endwaste/db-of-objects/internal/match"
	"github.com/endwaste/db-of-objects/internal/queue"
	"github.com/endwaste/db-of-objects/internal/storage"
	"github.com/endwaste/db-of-objects/internal/task"
	"github.com/endwaste/db-of-objects/internal/telemetry"
	"github.com/endwaste/db-of-objects/internal/vectorindex"
)

const testSourceURI = "s3://raw-images/robot-7/frame_000123.jpg"

type stubEmbedder struct {
	vector []float32
}

func (e *stubEmbedder) Embed(ctx context.Context, imageData []byte) ([]float32, error) {
	return e.vector, nil
}

func (e *stubEmbedder) Dimension() int { return len(e.vector) }

var _ embedding.Embedder = (*stubEmbedder)(nil)

type testEnv struct {
	router *gin.Engine
	store  *labelstore.MemStore
	index  *vectorindex.MemIndex
	object storage.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zerolog.Nop()
	store := labelstore.NewMemStore()
	index := vectorindex.NewMemIndex(2)

	object, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	coord := queue.NewCoordinator(store, logger)
	crops := crop.NewMaterializer(object, "s3://crops/for_labeling/", geometry.PolicyReject, 0, logger)
	matcher := match.NewMatcher(&stubEmbedder{vector: []float32{1, 0}}, index, object, logger)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	labeling := NewLabelingHandler(coord, crops, matcher, index, object, geometry.PolicyReject, time.Hour, metrics, logger)
	objects := NewObjectsHandler(matcher, index, object, logger)
	summary := NewSummaryHandler(store, index, logger)

	router := gin.New()
	router.GET("/labeling/list", labeling.List)
	router.POST("/labeling/similarity", labeling.Similarity)
	router.PUT("/labeling/update", labeling.Update)
	router.PUT("/labeling/update_embedding", labeling.UpdateEmbedding)
	router.POST("/objects", objects.Add)
	router.DELETE("/objects/:id", objects.Delete)
	router.GET("/summary", summary.Get)

	return &testEnv{router: router, store: store, index: index, object: object}
}

func (env *testEnv) putSourceImage(t *testing.T) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	require.NoError(t, env.object.Put(context.Background(), testSourceURI, buf.Bytes(), "image/jpeg"))
}

func (env *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestLabelingWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.putSourceImage(t)

	boundingBox := []float64{100.4, 150.6, 400.2, 420.9}

	// First sight of the crop: task created, crop materialized, no
	// neighbor because the index is empty.
	w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
		"source_uri":   testSourceURI,
		"bounding_box": boundingBox,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	cropURI, _ := body["crop_uri"].(string)
	assert.NotEmpty(t, cropURI)
	assert.NotEmpty(t, body["crop_presigned_url"])
	assert.Nil(t, body["score"])

	// The crop object exists in storage with provenance.
	data, err := env.object.Get(context.Background(), cropURI)
	require.NoError(t, err)
	p, ok := crop.ReadProvenance(data)
	require.True(t, ok)
	assert.Equal(t, testSourceURI, p.OriginalURI)

	// The task is claimed in the unlabeled shard.
	list := decodeBody(t, env.request(t, http.MethodGet, "/labeling/list", nil))
	assert.Equal(t, float64(1), list["total_crops"])
	assert.Equal(t, float64(0), list["total_labeled"])

	// Finalize with action=end.
	w = env.request(t, http.MethodPut, "/labeling/update", gin.H{
		"source_uri":        testSourceURI,
		"bounding_box":      boundingBox,
		"labeler_name":      "dina",
		"incoming_metadata": gin.H{"brand": "acme", "color": "red"},
		"similar_metadata":  gin.H{"brand": "acme", "color": "red"},
		"action":            "end",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Task moved to the labeled shard.
	labeled, err := env.store.List(context.Background(), task.ShardLabeled)
	require.NoError(t, err)
	require.Len(t, labeled, 1)
	assert.True(t, labeled[0].Labeled)
	assert.True(t, labeled[0].SimilarFlag)
	assert.Equal(t, "dina", labeled[0].LabelerName)

	unlabeled, err := env.store.List(context.Background(), task.ShardUnlabeled)
	require.NoError(t, err)
	assert.Empty(t, unlabeled)

	list = decodeBody(t, env.request(t, http.MethodGet, "/labeling/list", nil))
	assert.Equal(t, float64(1), list["total_crops"])
	assert.Equal(t, float64(1), list["total_labeled"])

	// Re-running similarity reuses the stored crop.
	w = env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
		"source_uri":   testSourceURI,
		"bounding_box": boundingBox,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cropURI, decodeBody(t, w)["crop_uri"])
}

func TestSimilarityValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Missing source_uri", func(t *testing.T) {
		w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
			"bounding_box": []float64{1, 2, 3, 4},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Wrong arity", func(t *testing.T) {
		w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
			"source_uri":   testSourceURI,
			"bounding_box": []float64{1, 2, 3},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Inverted box", func(t *testing.T) {
		w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
			"source_uri":   testSourceURI,
			"bounding_box": []float64{400, 100, 100, 200},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Normalized box under reject policy leaves no task behind", func(t *testing.T) {
		env := newTestEnv(t)
		env.putSourceImage(t)
		w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
			"source_uri":   testSourceURI,
			"bounding_box": []float64{0.1, 0.1, 0.9, 0.9},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		// The rejection must happen before any durable write; otherwise a
		// record keyed by the unusable coordinates lingers in the
		// unlabeled shard and inflates list counts forever.
		for _, shard := range task.Shards {
			tasks, err := env.store.List(context.Background(), shard)
			require.NoError(t, err)
			assert.Empty(t, tasks)
		}
	})
}

func TestUpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.putSourceImage(t)

	boundingBox := []float64{100, 150, 400, 420}

	t.Run("Invalid action rejected before any write", func(t *testing.T) {
		// Claim the task first so an invalid action would have something
		// to corrupt.
		w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
			"source_uri":   testSourceURI,
			"bounding_box": boundingBox,
		})
		require.Equal(t, http.StatusOK, w.Code)

		w = env.request(t, http.MethodPut, "/labeling/update", gin.H{
			"source_uri":   testSourceURI,
			"bounding_box": boundingBox,
			"action":       "restart",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		labeled, err := env.store.List(context.Background(), task.ShardLabeled)
		require.NoError(t, err)
		assert.Empty(t, labeled, "rejected action must not finalize the task")
	})

	t.Run("Unknown task returns 404", func(t *testing.T) {
		w := env.request(t, http.MethodPut, "/labeling/update", gin.H{
			"source_uri":   "s3://raw-images/never-seen.jpg",
			"bounding_box": boundingBox,
			"action":       "end",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateActionNext(t *testing.T) {
	env := newTestEnv(t)
	env.putSourceImage(t)

	boundingBox := []float64{100, 150, 400, 420}

	// A second, open task waits in the queue.
	other := &task.Task{
		Shard:       task.ShardUnlabeled,
		IdentityKey: "s3://raw-images/other.jpg|1,1,50,50",
		SourceURI:   "s3://raw-images/other.jpg",
		Box:         geometry.BoundingBox{XMin: 1, YMin: 1, XMax: 50, YMax: 50},
	}
	require.NoError(t, env.store.Put(context.Background(), other))

	w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
		"source_uri":   testSourceURI,
		"bounding_box": boundingBox,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPut, "/labeling/update", gin.H{
		"source_uri":   testSourceURI,
		"bounding_box": boundingBox,
		"action":       "next",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	next, ok := body["next_crop"].(map[string]any)
	require.True(t, ok, "response must carry the next crop")
	assert.Equal(t, "s3://raw-images/other.jpg", next["source_uri"])
	assert.Equal(t, false, next["labeled"])
}

func TestUpdateEmbedding(t *testing.T) {
	env := newTestEnv(t)
	env.putSourceImage(t)

	boundingBox := []float64{100, 150, 400, 420}

	w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
		"source_uri":   testSourceURI,
		"bounding_box": boundingBox,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPut, "/labeling/update_embedding", gin.H{
		"source_uri":   testSourceURI,
		"bounding_box": boundingBox,
		"embedding_id": "emb-42",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	unlabeled, err := env.store.List(context.Background(), task.ShardUnlabeled)
	require.NoError(t, err)
	require.Len(t, unlabeled, 1)
	assert.Equal(t, "emb-42", unlabeled[0].EmbeddingID)

	t.Run("Unknown task returns 404", func(t *testing.T) {
		w := env.request(t, http.MethodPut, "/labeling/update_embedding", gin.H{
			"source_uri":   "s3://raw-images/never-seen.jpg",
			"bounding_box": boundingBox,
			"embedding_id": "emb-43",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSimilarityFindsDistinctNeighbor(t *testing.T) {
	env := newTestEnv(t)
	env.putSourceImage(t)

	// A stored object close to the stub embedding but under a different
	// path.
	require.NoError(t, env.index.Upsert(context.Background(), "neighbor", []float32{0.9, 0.1}, map[string]any{
		match.MetadataPathKey: "s3://crops/for_labeling/other_xyz.jpg",
		"brand":               "acme",
	}))

	w := env.request(t, http.MethodPost, "/labeling/similarity", gin.H{
		"source_uri":   testSourceURI,
		"bounding_box": []float64{100, 150, 400, 420},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "s3://crops/for_labeling/other_xyz.jpg", body["similar_uri"])
	assert.NotNil(t, body["score"])
	similar, ok := body["similar_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "acme", similar["brand"])
}
