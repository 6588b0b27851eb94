package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studyforge/material-pipeline/internal/service/material"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
	"github.com/studyforge/material-pipeline/pkg/queue"
)

type MaterialHandler struct {
	service material.Service
	logger  logger.Logger
}

// UploadResponse describes a freshly queued material.
type UploadResponse struct {
	MaterialID string `json:"materialId"`
	JobID      string `json:"jobId"`
	Status     string `json:"status"`
	Filename   string `json:"filename"`
	FileSize   int64  `json:"fileSize"`
	CreatedAt  string `json:"createdAt"`
}

// ErrorResponse shape shared by all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewMaterialHandler(service material.Service, logger logger.Logger) *MaterialHandler {
	return &MaterialHandler{
		service: service,
		logger:  logger,
	}
}

// Upload accepts one material file and queues it for processing.
func (h *MaterialHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	ownerID := c.GetString("userId")

	m, jobID, err := h.service.Upload(c.Request.Context(), file, header, ownerID)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to upload material", err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		MaterialID: m.ID,
		JobID:      jobID,
		Status:     string(m.Status),
		Filename:   header.Filename,
		FileSize:   header.Size,
		CreatedAt:  m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// UploadBatch accepts several files in one multipart form.
func (h *MaterialHandler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}

	ownerID := c.GetString("userId")

	materials, err := h.service.UploadBatch(c.Request.Context(), files, ownerID)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to upload materials", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   fmt.Sprintf("Processing %d materials", len(materials)),
		"materials": materials,
	})
}

// Submit queues a new processing job for an existing material.
func (h *MaterialHandler) Submit(c *gin.Context) {
	materialID := c.Param("materialId")
	if materialID == "" {
		h.handleError(c, http.StatusBadRequest, "Material ID is required", nil)
		return
	}

	jobID, err := h.service.SubmitForProcessing(c.Request.Context(), materialID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, store.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, queue.ErrAlreadyQueued):
			status = http.StatusConflict
		}
		h.handleError(c, status, "Failed to submit material", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"materialId": materialID,
		"jobId":      jobID,
	})
}

// GetMaterial returns a material with its derived outputs.
func (h *MaterialHandler) GetMaterial(c *gin.Context) {
	materialID := c.Param("materialId")
	if materialID == "" {
		h.handleError(c, http.StatusBadRequest, "Material ID is required", nil)
		return
	}

	m, err := h.service.GetMaterial(c.Request.Context(), materialID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.handleError(c, status, "Failed to get material", err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// GetStatus returns the per-stage processing status for a material.
func (h *MaterialHandler) GetStatus(c *gin.Context) {
	materialID := c.Param("materialId")
	if materialID == "" {
		h.handleError(c, http.StatusBadRequest, "Material ID is required", nil)
		return
	}

	statuses, err := h.service.GetProcessingStatus(c.Request.Context(), materialID)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to get status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"materialId": materialID,
		"stages":     statuses,
	})
}

// GetJob returns job-level progress.
func (h *MaterialHandler) GetJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		h.handleError(c, http.StatusBadRequest, "Job ID is required", nil)
		return
	}

	progress, err := h.service.GetJobProgress(c.Request.Context(), jobID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.handleError(c, status, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

// CancelJob removes a queued job.
func (h *MaterialHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		h.handleError(c, http.StatusBadRequest, "Job ID is required", nil)
		return
	}

	if err := h.service.CancelJob(c.Request.Context(), jobID); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to cancel job", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled successfully",
		"jobId":   jobID,
	})
}

func (h *MaterialHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
