package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studyforge/material-pipeline/api/handlers"
	"github.com/studyforge/material-pipeline/api/middleware"
)

// SetupRoutes wires all HTTP routes onto the engine.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	materials := v1.Group("/materials")
	{
		materials.POST("/upload", h.Material.Upload)
		materials.POST("/upload/batch", h.Material.UploadBatch)
		materials.POST("/:materialId/process", h.Material.Submit)
		materials.GET("/:materialId", h.Material.GetMaterial)
		materials.GET("/:materialId/status", h.Material.GetStatus)
	}

	jobs := v1.Group("/jobs")
	{
		jobs.GET("/:jobId", h.Material.GetJob)
		jobs.DELETE("/:jobId", h.Material.CancelJob)
	}
}
