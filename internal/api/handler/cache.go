package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tobyh/feedvault/internal/api/middleware"
	"github.com/tobyh/feedvault/internal/dedupe"
	"github.com/tobyh/feedvault/internal/service"
)

// CacheHandler exposes the duplicate cache's maintenance operations.
type CacheHandler struct {
	ingestor *service.Ingestor
	cache    *dedupe.Cache
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(ingestor *service.Ingestor, cache *dedupe.Cache) *CacheHandler {
	return &CacheHandler{ingestor: ingestor, cache: cache}
}

// Rebuild handles POST /api/v1/cache/rebuild. It re-derives the whole
// cache from the remote store and blocks batch ingestion while it
// runs. Cost scales with the total number of persisted records.
func (h *CacheHandler) Rebuild(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.ingestor.RebuildCache(ctx); err != nil {
		middleware.GetLogger(c).WithError(err).Error("Cache rebuild failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to rebuild cache: " + err.Error(),
		})
		return
	}

	count, err := h.cache.Count(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count cache entries: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "rebuilt",
		"fingerprints": count,
	})
}

// Stats handles GET /api/v1/cache/stats.
func (h *CacheHandler) Stats(c *gin.Context) {
	count, err := h.cache.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count cache entries: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"fingerprints": count,
	})
}
