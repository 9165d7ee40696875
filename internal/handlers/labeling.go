package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/endwaste/db-of-objects/internal/crop"
	"github.com/endwaste/db-of-objects/internal/geometry"
	"github.com/endwaste/db-of-objects/internal/match"
	"github.com/endwaste/db-of-objects/internal/queue"
	"github.com/endwaste/db-of-objects/internal/storage"
	"github.com/endwaste/db-of-objects/internal/task"
	"github.com/endwaste/db-of-objects/internal/telemetry"
	"github.com/endwaste/db-of-objects/internal/vectorindex"
)

// LabelingHandler serves the labeling workflow endpoints.
type LabelingHandler struct {
	coord         *queue.Coordinator
	crops         *crop.Materializer
	matcher       *match.Matcher
	index         vectorindex.Index
	objects       storage.Storage
	boxPolicy     geometry.BoxPolicy
	presignExpiry time.Duration
	metrics       *telemetry.Metrics
	logger        zerolog.Logger
}

// NewLabelingHandler creates the labeling workflow handler.
func NewLabelingHandler(
	coord *queue.Coordinator,
	crops *crop.Materializer,
	matcher *match.Matcher,
	index vectorindex.Index,
	objects storage.Storage,
	boxPolicy geometry.BoxPolicy,
	presignExpiry time.Duration,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) *LabelingHandler {
	return &LabelingHandler{
		coord:         coord,
		crops:         crops,
		matcher:       matcher,
		index:         index,
		objects:       objects,
		boxPolicy:     boxPolicy,
		presignExpiry: presignExpiry,
		metrics:       metrics,
		logger:        logger,
	}
}

// List handles GET /labeling/list: all task summaries plus counts, with
// stale claims released as a side effect of reading.
func (h *LabelingHandler) List(c *gin.Context) {
	result, err := h.coord.ListTasks(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list labeling tasks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve labeling list"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// SimilarityRequest identifies the crop to claim and label.
type SimilarityRequest struct {
	SourceURI   string    `json:"source_uri" binding:"required"`
	BoundingBox []float64 `json:"bounding_box" binding:"required"`
}

// SimilarityResponse returns the claimed crop and its best distinct
// neighbor, when one exists.
type SimilarityResponse struct {
	CropURI             string         `json:"crop_uri"`
	CropPresignedURL    string         `json:"crop_presigned_url"`
	IncomingMetadata    map[string]any `json:"incoming_metadata"`
	SimilarURI          string         `json:"similar_uri,omitempty"`
	SimilarPresignedURL string         `json:"similar_presigned_url,omitempty"`
	SimilarMetadata     map[string]any `json:"similar_metadata"`
	Score               *float64       `json:"score"`
	EmbeddingID         string         `json:"embedding_id"`
}

// Similarity handles POST /labeling/similarity. It claims (or creates)
// the task, materializes the crop if needed, and looks up the most
// similar stored object excluding the crop itself.
func (h *LabelingHandler) Similarity(c *gin.Context) {
	var req SimilarityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_uri and bounding_box are required"})
		return
	}
	box, err := geometry.ParseBox(req.BoundingBox)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// A box the policy can never resolve must fail before the task is
	// persisted; a record keyed by unusable coordinates would sit in the
	// unlabeled shard forever.
	if err := h.boxPolicy.Validate(box); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	t, created, err := h.coord.ClaimOrCreate(ctx, req.SourceURI, box)
	if err != nil {
		h.logger.Error().Err(err).Str("source_uri", req.SourceURI).Msg("Claim failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to claim labeling task"})
		return
	}
	h.metrics.TasksClaimed.Inc()
	if created {
		h.metrics.TasksCreated.Inc()
	}

	if _, err := h.crops.EnsureCrop(ctx, t); err != nil {
		if errors.Is(err, geometry.ErrNormalizedBox) || errors.Is(err, geometry.ErrInvalidBox) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("source_uri", req.SourceURI).Msg("Crop materialization failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to materialize crop"})
		return
	}

	incoming := h.incomingMetadata(c, t)

	best, err := h.matcher.FindBestMatch(ctx, t.CropURI, t.CropURI)
	if err != nil {
		h.logger.Error().Err(err).Str("crop_uri", t.CropURI).Msg("Similarity search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "similarity search failed"})
		return
	}

	resp := SimilarityResponse{
		CropURI:          t.CropURI,
		IncomingMetadata: incoming,
		SimilarMetadata:  map[string]any{},
		EmbeddingID:      t.EmbeddingID,
	}
	if best != nil {
		score := best.Score
		resp.Score = &score
		resp.SimilarURI = best.URI
		resp.SimilarMetadata = best.Metadata
		t.SimilarURI = best.URI
		t.SimilarMetadata = task.EncodeMetadata(best.Metadata)
	}

	if err := h.coord.Save(ctx, t); err != nil {
		h.logger.Error().Err(err).Str("identity_key", t.IdentityKey).Msg("Failed to persist task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist labeling task"})
		return
	}

	resp.CropPresignedURL = h.presign(c, t.CropURI)
	if resp.SimilarURI != "" {
		resp.SimilarPresignedURL = h.presign(c, resp.SimilarURI)
	}

	c.JSON(http.StatusOK, resp)
}

// incomingMetadata resolves the metadata shown for the claimed crop: the
// vector index entry when the crop is already in the database, otherwise
// whatever the task has stored from a previous session.
func (h *LabelingHandler) incomingMetadata(c *gin.Context, t *task.Task) map[string]any {
	if t.EmbeddingID == "" {
		return task.DecodeMetadata(t.IncomingMetadata, h.logger)
	}
	records, err := h.index.Fetch(c.Request.Context(), []string{t.EmbeddingID})
	if err != nil {
		h.logger.Warn().Err(err).Str("embedding_id", t.EmbeddingID).Msg("Failed to fetch stored metadata")
		return nil
	}
	if r, ok := records[t.EmbeddingID]; ok {
		return r.Metadata
	}
	return nil
}

func (h *LabelingHandler) presign(c *gin.Context, uri string) string {
	url, err := h.objects.PresignGet(c.Request.Context(), uri, h.presignExpiry)
	if err != nil {
		h.logger.Warn().Err(err).Str("uri", uri).Msg("Failed to presign object")
		return ""
	}
	return url
}

// UpdateRequest carries a label submission.
type UpdateRequest struct {
	SourceURI        string         `json:"source_uri" binding:"required"`
	BoundingBox      []float64      `json:"bounding_box" binding:"required"`
	LabelerName      string         `json:"labeler_name"`
	Difficult        bool           `json:"difficult"`
	IncomingMetadata map[string]any `json:"incoming_metadata"`
	SimilarMetadata  map[string]any `json:"similar_metadata"`
	Action           string         `json:"action"`
	EmbeddingID      string         `json:"embedding_id"`
}

// Update handles PUT /labeling/update: finalizes a task, moving it to
// the labeled shard. With action=next the response also carries the next
// task to work on.
func (h *LabelingHandler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_uri and bounding_box are required"})
		return
	}
	box, err := geometry.ParseBox(req.BoundingBox)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action := req.Action
	if action == "" {
		action = "end"
	}
	if action != "end" && action != "next" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action: " + req.Action})
		return
	}

	ctx := c.Request.Context()
	t, err := h.coord.Finalize(ctx, queue.FinalizeInput{
		SourceURI:        req.SourceURI,
		Box:              box,
		LabelerName:      req.LabelerName,
		Difficult:        req.Difficult,
		IncomingMetadata: req.IncomingMetadata,
		SimilarMetadata:  req.SimilarMetadata,
		EmbeddingID:      req.EmbeddingID,
	})
	if errors.Is(err, queue.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "labeling task not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("source_uri", req.SourceURI).Msg("Finalize failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to finalize labeling task"})
		return
	}
	h.metrics.TasksFinalized.Inc()

	if action == "end" {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Crop updated. Labeling session ended.",
		})
		return
	}

	next, err := h.coord.NextTask(ctx, t.IdentityKey)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to find next task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to find next crop"})
		return
	}
	if next == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Crop updated. No more crops available.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"message":   "Crop updated. Here's the next crop.",
		"next_crop": next,
	})
}

// UpdateEmbeddingRequest patches a task's embedding reference.
type UpdateEmbeddingRequest struct {
	SourceURI   string    `json:"source_uri" binding:"required"`
	BoundingBox []float64 `json:"bounding_box" binding:"required"`
	EmbeddingID string    `json:"embedding_id" binding:"required"`
}

// UpdateEmbedding handles PUT /labeling/update_embedding. It is called
// right after a crop is added to the database, so the task references
// its vector even if the labeler never finalizes.
func (h *LabelingHandler) UpdateEmbedding(c *gin.Context) {
	var req UpdateEmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_uri, bounding_box and embedding_id are required"})
		return
	}
	box, err := geometry.ParseBox(req.BoundingBox)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.coord.UpdateEmbeddingRef(c.Request.Context(), req.SourceURI, box, req.EmbeddingID)
	if errors.Is(err, queue.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "labeling task not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("source_uri", req.SourceURI).Msg("Embedding patch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update embedding reference"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task updated with new embedding_id."})
}
