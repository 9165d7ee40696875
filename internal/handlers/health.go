package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/endwaste/db-of-objects/internal/database"
)

// HealthResponse reports service liveness and database reachability. The
// vector index lives in the same Postgres instance, so one ping covers
// both stores.
type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Connections int32  `json:"connections,omitempty"`
}

// HealthCheck handles the health check endpoint.
func HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status: "ok",
	}

	if database.Pool() == nil {
		response.Database = "not configured"
		c.JSON(http.StatusOK, response)
		return
	}

	if err := database.Status(c.Request.Context()); err != nil {
		response.Database = "disconnected"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.Database = "connected"
	if stats := database.Stats(); stats != nil {
		response.Connections = stats.TotalConns()
	}

	c.JSON(http.StatusOK, response)
}
