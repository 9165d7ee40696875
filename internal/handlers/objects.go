package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/endwaste/db-of-objects/internal/crop"
	"github.com/endwaste/db-of-objects/internal/match"
	"github.com/endwaste/db-of-objects/internal/storage"
	"github.com/endwaste/db-of-objects/internal/vectorindex"
)

// ObjectsHandler adds and removes stored objects in the vector index.
type ObjectsHandler struct {
	matcher *match.Matcher
	index   vectorindex.Index
	objects storage.Storage
	logger  zerolog.Logger
}

// NewObjectsHandler creates the object management handler.
func NewObjectsHandler(matcher *match.Matcher, index vectorindex.Index, objects storage.Storage, logger zerolog.Logger) *ObjectsHandler {
	return &ObjectsHandler{matcher: matcher, index: index, objects: objects, logger: logger}
}

// AddObjectRequest describes a crop to add to the database. Provenance
// fields may be omitted when the image carries them in its EXIF data.
type AddObjectRequest struct {
	URI         string    `json:"uri" binding:"required"`
	Brand       string    `json:"brand"`
	Color       string    `json:"color"`
	Material    string    `json:"material"`
	Shape       string    `json:"shape"`
	Comment     string    `json:"comment"`
	LabelerName string    `json:"labeler_name"`
	OriginalURI string    `json:"original_s3_uri"`
	Coordinates []float64 `json:"coordinates"`
}

// Add handles POST /objects: fetches the image, merges request fields
// with any provenance embedded in the image, computes the embedding and
// stores the vector under a fresh id.
func (h *ObjectsHandler) Add(c *gin.Context) {
	var req AddObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri is required"})
		return
	}

	ctx := c.Request.Context()
	data, err := h.objects.Get(ctx, req.URI)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found: " + req.URI})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("uri", req.URI).Msg("Failed to fetch object")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch object"})
		return
	}

	// Provenance baked into the image wins over request fields.
	originalURI := req.OriginalURI
	coordinates := req.Coordinates
	if p, ok := crop.ReadProvenance(data); ok {
		if p.OriginalURI != "" {
			originalURI = p.OriginalURI
		}
		if len(p.Coordinates) > 0 {
			coordinates = p.Coordinates
		}
	}
	if originalURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "original_s3_uri is required in the request or in the image metadata"})
		return
	}
	if len(coordinates) != 4 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates must hold 4 values"})
		return
	}

	vector, err := h.matcher.EmbedImage(ctx, data)
	if err != nil {
		h.logger.Error().Err(err).Str("uri", req.URI).Msg("Embedding failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to embed image"})
		return
	}

	id := uuid.NewString()
	metadata := map[string]any{
		"brand":               req.Brand,
		"color":               req.Color,
		"material":            req.Material,
		"shape":               req.Shape,
		"comment":             req.Comment,
		"labeler_name":        req.LabelerName,
		"original_s3_uri":     originalURI,
		match.MetadataPathKey: req.URI,
		"coordinates":         coordinates,
		"embedding_id":        id,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.index.Upsert(ctx, id, vector, metadata); err != nil {
		h.logger.Error().Err(err).Str("embedding_id", id).Msg("Index upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store object"})
		return
	}

	h.logger.Info().Str("embedding_id", id).Str("uri", req.URI).Msg("Object added")
	c.JSON(http.StatusOK, gin.H{"status": "success", "embedding_id": id})
}

// Delete handles DELETE /objects/:id.
func (h *ObjectsHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	records, err := h.index.Fetch(ctx, []string{id})
	if err != nil {
		h.logger.Error().Err(err).Str("embedding_id", id).Msg("Index fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up object"})
		return
	}
	if _, ok := records[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching entry found"})
		return
	}

	if err := h.index.Delete(ctx, id); err != nil {
		h.logger.Error().Err(err).Str("embedding_id", id).Msg("Index delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete object"})
		return
	}

	h.logger.Info().Str("embedding_id", id).Msg("Object deleted")
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "entry " + id + " deleted"})
}
