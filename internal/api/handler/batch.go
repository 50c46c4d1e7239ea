package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tobyh/feedvault/internal/api/middleware"
	"github.com/tobyh/feedvault/internal/domain"
	"github.com/tobyh/feedvault/internal/service"
)

// BatchHandler accepts captured batches from the browser-side
// collectors.
type BatchHandler struct {
	ingestor *service.Ingestor
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(ingestor *service.Ingestor) *BatchHandler {
	return &BatchHandler{ingestor: ingestor}
}

// Submit handles POST /api/v1/batches. The call blocks until the batch
// has fully run; concurrent submissions queue on the ingestion gate in
// arrival order.
func (h *BatchHandler) Submit(c *gin.Context) {
	var batch domain.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid batch payload: " + err.Error(),
		})
		return
	}

	summary, err := h.ingestor.IngestBatch(c.Request.Context(), &batch)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Batch ingestion failed")
		switch domain.KindOf(err) {
		case domain.KindValidation:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"page_id": batch.PageID,
		"summary": summary,
	})
}
