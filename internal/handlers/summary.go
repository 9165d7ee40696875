package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/endwaste/db-of-objects/internal/labelstore"
	"github.com/endwaste/db-of-objects/internal/task"
	"github.com/endwaste/db-of-objects/internal/vectorindex"
)

// SummaryHandler reports database-wide statistics.
type SummaryHandler struct {
	store  labelstore.Store
	index  vectorindex.Index
	logger zerolog.Logger
}

// NewSummaryHandler creates the summary handler.
func NewSummaryHandler(store labelstore.Store, index vectorindex.Index, logger zerolog.Logger) *SummaryHandler {
	return &SummaryHandler{store: store, index: index, logger: logger}
}

// SummaryResponse aggregates index stats with labeling progress.
type SummaryResponse struct {
	Index        vectorindex.Stats `json:"index"`
	TotalCrops   int               `json:"total_crops"`
	TotalLabeled int               `json:"total_labeled"`
	InProgress   int               `json:"in_progress"`
}

// Get handles GET /summary.
func (h *SummaryHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.index.Describe(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to describe vector index")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to describe vector index"})
		return
	}

	resp := SummaryResponse{Index: stats}
	for _, shard := range task.Shards {
		tasks, err := h.store.List(ctx, shard)
		if err != nil {
			h.logger.Error().Err(err).Str("shard", string(shard)).Msg("Failed to list tasks")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list labeling tasks"})
			return
		}
		for i := range tasks {
			resp.TotalCrops++
			if tasks[i].Labeled {
				resp.TotalLabeled++
			}
			if tasks[i].InProgress {
				resp.InProgress++
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}
