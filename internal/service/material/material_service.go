package material

import (
	"context"
	"mime/multipart"

	"github.com/studyforge/material-pipeline/internal/models"
)

// StageStatus is one per-stage entry of a material's status surface, in
// stage order.
type StageStatus struct {
	Stage    models.Stage      `json:"stage"`
	Status   models.TaskStatus `json:"status"`
	Progress float64           `json:"progress"`
	Message  string            `json:"message,omitempty"`
}

// JobProgress is the client view of one queued job.
type JobProgress struct {
	State        models.JobStatus `json:"state"`
	Progress     float64          `json:"progress"`
	FailedReason string           `json:"failedReason,omitempty"`
	AttemptsMade int              `json:"attemptsMade"`
}

// Service is the upload-and-process surface consumed by the API layer.
type Service interface {
	Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader, ownerID string) (*models.Material, string, error)
	UploadBatch(ctx context.Context, files []*multipart.FileHeader, ownerID string) ([]*models.Material, error)
	SubmitForProcessing(ctx context.Context, materialID string) (string, error)
	GetMaterial(ctx context.Context, materialID string) (*models.Material, error)
	GetProcessingStatus(ctx context.Context, materialID string) ([]StageStatus, error)
	GetJobProgress(ctx context.Context, jobID string) (*JobProgress, error)
	CancelJob(ctx context.Context, jobID string) error
}
