package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tobyh/feedvault/internal/activity"
)

// RunsHandler exposes the collection activity trail.
type RunsHandler struct {
	recorder *activity.Recorder
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(recorder *activity.Recorder) *RunsHandler {
	return &RunsHandler{recorder: recorder}
}

// List handles GET /api/v1/runs.
func (h *RunsHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	runs, err := h.recorder.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}
