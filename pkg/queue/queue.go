package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/studyforge/material-pipeline/internal/models"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
)

// TaskTypeMaterialProcess is the asynq task type for one processing job.
const TaskTypeMaterialProcess = "material:process"

// ErrAlreadyQueued is returned when a material already has a job in
// flight.
var ErrAlreadyQueued = errors.New("material already queued for processing")

// taskIDForMaterial derives the asynq task ID from the material, so a
// second submission while a job is in flight collides instead of
// racing two runners over the same task records.
func taskIDForMaterial(materialID string) string {
	return "material-process:" + materialID
}

// JobPayload is the wire body of a queued job.
type JobPayload struct {
	JobID      string `json:"jobId"`
	MaterialID string `json:"materialId"`
}

// Scheduler accepts processing requests, creates the per-stage task set
// and the job record, and queues the job for a worker. Whole-job retry
// on transient failure is delegated to asynq with a linear backoff
// (baseDelay * attempt), matching the chunk-level policy's shape.
type Scheduler struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	store     store.Store
	logger    logger.Logger
	cfg       *SchedulerConfig
}

// SchedulerConfig defines queue configuration.
type SchedulerConfig struct {
	RedisAddr      string
	RedisDB        int
	MaxRetries     int
	RetryBaseDelay time.Duration
	ProcessTimeout time.Duration
}

// ApplyDefaults fills zero values with working defaults.
func (c *SchedulerConfig) ApplyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 30 * time.Minute
	}
}

// RetryDelay is the job-level backoff: baseDelay * attempt number
// (5s, 10s, 15s with defaults). Shared by the worker server config.
func (c *SchedulerConfig) RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return c.RetryBaseDelay * time.Duration(n)
}

func NewScheduler(cfg *SchedulerConfig, st store.Store, log logger.Logger) *Scheduler {
	cfg.ApplyDefaults()
	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}

	return &Scheduler{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		store:     st,
		logger:    log,
		cfg:       cfg,
	}
}

// Enqueue queues a processing job for the material. The per-stage task
// set is created up front, all pending; re-enqueueing a material that
// already has tasks keeps them so a rerun resumes where it stopped. At
// most one job per material is in flight: the asynq task ID is derived
// from the material, so a duplicate submission returns ErrAlreadyQueued
// instead of racing a second runner over the same task records.
func (s *Scheduler) Enqueue(ctx context.Context, materialID string) (string, error) {
	if _, err := s.store.GetMaterial(ctx, materialID); err != nil {
		return "", fmt.Errorf("material %s: %w", materialID, err)
	}

	existing, err := s.store.GetTasksForMaterial(ctx, materialID)
	if err != nil {
		return "", fmt.Errorf("failed to load tasks: %w", err)
	}
	if len(existing) == 0 {
		now := time.Now()
		for _, stage := range models.Stages {
			task := &models.ProcessingTask{
				ID:         uuid.New().String(),
				MaterialID: materialID,
				Stage:      stage,
				Status:     models.TaskPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.store.CreateTask(ctx, task); err != nil {
				return "", fmt.Errorf("failed to create task for stage %s: %w", stage, err)
			}
		}
	}

	now := time.Now()
	job := &models.Job{
		ID:           uuid.New().String(),
		MaterialID:   materialID,
		Status:       models.JobPending,
		MaxAttempts:  s.cfg.MaxRetries + 1,
		CreatedAt:    now,
		ScheduledFor: now,
		UpdatedAt:    now,
	}

	payload, err := json.Marshal(JobPayload{JobID: job.ID, MaterialID: materialID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	t := asynq.NewTask(TaskTypeMaterialProcess, payload,
		asynq.TaskID(taskIDForMaterial(materialID)),
		asynq.MaxRetry(s.cfg.MaxRetries),
		asynq.Timeout(s.cfg.ProcessTimeout),
	)
	if _, err := s.client.EnqueueContext(ctx, t); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", fmt.Errorf("material %s: %w", materialID, ErrAlreadyQueued)
		}
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	// The job record is written after the queue accepted the task; a
	// worker that races it simply fails the delivery and asynq retries.
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job enqueued",
		logger.String("jobId", job.ID),
		logger.String("materialId", materialID),
	)
	return job.ID, nil
}

// GetJob returns the job record.
func (s *Scheduler) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// CancelJob removes a queued job. Jobs already running finish their
// current stage sequence.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	if err := s.inspector.DeleteTask("default", taskIDForMaterial(job.MaterialID)); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	s.logger.Info("Job cancelled",
		logger.String("jobId", jobID),
		logger.String("materialId", job.MaterialID),
	)
	return nil
}

// Close releases the queue client.
func (s *Scheduler) Close() error {
	return s.client.Close()
}
