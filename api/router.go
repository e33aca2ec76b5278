package api

import (
	"clipforge/config"
	"github.com/gin-gonic/gin"
)

func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		// Pipeline runs
		v1.POST("/runs", h.handleStartRun)
		v1.GET("/runs", h.handleListRuns)
		v1.GET("/runs/:runId", h.handleGetRun)
		v1.POST("/runs/:runId/step", h.handleStepRun)
		v1.POST("/runs/:runId/confirm", h.handleConfirmRun)
		v1.GET("/runs/:runId/files/*filepath", h.handleGetRunFile)

		// Upload worker
		v1.POST("/upload/run", h.handleUploadRun)
		v1.GET("/upload/status", h.handleUploadStatus)
		v1.GET("/upload/logs", h.handleUploadLogs)
	}
	return r
}
