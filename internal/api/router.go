package api

import (
	"github.com/gin-gonic/gin"

	"github.com/tobyh/feedvault/internal/activity"
	"github.com/tobyh/feedvault/internal/api/handler"
	"github.com/tobyh/feedvault/internal/api/middleware"
	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/dedupe"
	"github.com/tobyh/feedvault/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	ingestor *service.Ingestor,
	cache *dedupe.Cache,
	recorder *activity.Recorder,
	cfg *config.ServerConfig,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler()
	batchHandler := handler.NewBatchHandler(ingestor)
	cacheHandler := handler.NewCacheHandler(ingestor, cache)
	runsHandler := handler.NewRunsHandler(recorder)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Batch submission
		v1.POST("/batches", batchHandler.Submit)

		// Duplicate cache maintenance
		v1.POST("/cache/rebuild", cacheHandler.Rebuild)
		v1.GET("/cache/stats", cacheHandler.Stats)

		// Activity trail
		v1.GET("/runs", runsHandler.List)
	}

	return r
}
