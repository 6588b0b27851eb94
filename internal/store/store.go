package store

import (
	"context"
	"errors"

	"github.com/studyforge/material-pipeline/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists materials, per-stage task records and job records.
// Single-row read-after-write consistency is assumed; the single-writer
// rule (one runner owns a material's tasks at a time) makes that enough.
type Store interface {
	CreateMaterial(ctx context.Context, m *models.Material) error
	GetMaterial(ctx context.Context, id string) (*models.Material, error)
	UpdateMaterial(ctx context.Context, m *models.Material) error

	CreateTask(ctx context.Context, t *models.ProcessingTask) error
	UpdateTask(ctx context.Context, t *models.ProcessingTask) error
	// GetTasksForMaterial returns the material's tasks in stage order.
	GetTasksForMaterial(ctx context.Context, materialID string) ([]models.ProcessingTask, error)

	CreateJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, j *models.Job) error
}
