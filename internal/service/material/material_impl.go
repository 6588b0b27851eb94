package material

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/studyforge/material-pipeline/internal/models"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
	"github.com/studyforge/material-pipeline/pkg/queue"
	"github.com/studyforge/material-pipeline/pkg/storage"
)

var kindByExt = map[string]models.MaterialKind{
	".pdf":  models.KindDocument,
	".txt":  models.KindDocument,
	".jpg":  models.KindImage,
	".jpeg": models.KindImage,
	".png":  models.KindImage,
	".tiff": models.KindImage,
}

type MaterialService struct {
	scheduler *queue.Scheduler
	store     store.Store
	blobs     storage.Storage
	logger    logger.Logger
	config    *ServiceConfig
}

type ServiceConfig struct {
	MaxFileSize   int64
	MaxConcurrent int
}

func NewService(
	scheduler *queue.Scheduler,
	st store.Store,
	blobs storage.Storage,
	log logger.Logger,
	cfg *ServiceConfig,
) Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 50 * 1024 * 1024 // 50MB
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}

	return &MaterialService{
		scheduler: scheduler,
		store:     st,
		blobs:     blobs,
		logger:    log,
		config:    cfg,
	}
}

// Upload validates and stores the raw file, creates the material record
// and queues it for processing.
func (s *MaterialService) Upload(
	ctx context.Context,
	file multipart.File,
	header *multipart.FileHeader,
	ownerID string,
) (*models.Material, string, error) {
	s.logger.Info("Starting material upload",
		logger.String("filename", header.Filename),
		logger.Int64("size", header.Size),
	)

	kind, err := s.validateFile(header)
	if err != nil {
		s.logger.Error("File validation failed",
			logger.String("filename", header.Filename),
			logger.Error(err),
		)
		return nil, "", err
	}

	materialID := uuid.New().String()
	blobKey := fmt.Sprintf("raw/%s%s", materialID, strings.ToLower(filepath.Ext(header.Filename)))

	blobRef, err := s.blobs.Store(ctx, file, blobKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store blob: %w", err)
	}

	now := time.Now()
	material := &models.Material{
		ID:        materialID,
		OwnerID:   ownerID,
		BlobRef:   blobRef,
		Kind:      kind,
		Status:    models.MaterialPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateMaterial(ctx, material); err != nil {
		return nil, "", fmt.Errorf("failed to create material: %w", err)
	}

	jobID, err := s.scheduler.Enqueue(ctx, materialID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to enqueue material: %w", err)
	}

	s.logger.Info("Material queued for processing",
		logger.String("materialId", materialID),
		logger.String("jobId", jobID),
	)
	return material, jobID, nil
}

// UploadBatch uploads several files concurrently.
func (s *MaterialService) UploadBatch(ctx context.Context, files []*multipart.FileHeader, ownerID string) ([]*models.Material, error) {
	materials := make([]*models.Material, 0, len(files))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrent)

	for _, header := range files {
		header := header
		g.Go(func() error {
			file, err := header.Open()
			if err != nil {
				return fmt.Errorf("failed to open file %s: %w", header.Filename, err)
			}
			defer file.Close()

			m, _, err := s.Upload(ctx, file, header, ownerID)
			if err != nil {
				return fmt.Errorf("failed to upload file %s: %w", header.Filename, err)
			}

			mu.Lock()
			materials = append(materials, m)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return materials, err
	}
	return materials, nil
}

// SubmitForProcessing queues a new job for an existing material.
func (s *MaterialService) SubmitForProcessing(ctx context.Context, materialID string) (string, error) {
	return s.scheduler.Enqueue(ctx, materialID)
}

// GetMaterial returns the material with its derived outputs.
func (s *MaterialService) GetMaterial(ctx context.Context, materialID string) (*models.Material, error) {
	return s.store.GetMaterial(ctx, materialID)
}

// GetProcessingStatus returns one entry per stage task, in stage order.
func (s *MaterialService) GetProcessingStatus(ctx context.Context, materialID string) ([]StageStatus, error) {
	tasks, err := s.store.GetTasksForMaterial(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	statuses := make([]StageStatus, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, StageStatus{
			Stage:    t.Stage,
			Status:   t.Status,
			Progress: t.Progress,
			Message:  t.Error,
		})
	}
	return statuses, nil
}

// GetJobProgress returns the client view of a job.
func (s *MaterialService) GetJobProgress(ctx context.Context, jobID string) (*JobProgress, error) {
	job, err := s.scheduler.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &JobProgress{
		State:        job.Status,
		Progress:     job.Progress,
		FailedReason: job.FailedReason,
		AttemptsMade: job.Attempts,
	}, nil
}

// CancelJob removes a queued job.
func (s *MaterialService) CancelJob(ctx context.Context, jobID string) error {
	return s.scheduler.CancelJob(ctx, jobID)
}

func (s *MaterialService) validateFile(header *multipart.FileHeader) (models.MaterialKind, error) {
	if header.Size > s.config.MaxFileSize {
		return "", fmt.Errorf("file size exceeds maximum limit of %d bytes", s.config.MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	kind, ok := kindByExt[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}
	return kind, nil
}
