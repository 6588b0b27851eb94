package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/studyforge/material-pipeline/internal/models"
	"github.com/studyforge/material-pipeline/internal/pipeline"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
	"github.com/studyforge/material-pipeline/pkg/queue"
)

// MaterialWorker pulls processing jobs off the queue and drives the
// stage runner. Stages within one job run sequentially on one worker;
// parallelism across chunks lives inside the runner's batch executor.
type MaterialWorker struct {
	BaseWorker
	runner    *pipeline.Runner
	store     store.Store
	retryBase time.Duration
}

// Config for the worker pool.
type Config struct {
	RedisAddr      string
	RedisDB        int
	Concurrency    int
	RetryBaseDelay time.Duration
}

func NewMaterialWorker(cfg *Config, runner *pipeline.Runner, st store.Store, log logger.Logger) *MaterialWorker {
	retryBase := cfg.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 5 * time.Second
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return retryBase * time.Duration(n)
			},
		},
	)

	w := &MaterialWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		runner:    runner,
		store:     st,
		retryBase: retryBase,
	}

	w.mux.HandleFunc(queue.TaskTypeMaterialProcess, w.handleMaterialProcess)
	return w
}

func (w *MaterialWorker) handleMaterialProcess(ctx context.Context, t *asynq.Task) error {
	var payload queue.JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal job payload",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("invalid job payload: %w", asynq.SkipRetry)
	}

	log := w.logger.With(
		logger.String("jobId", payload.JobID),
		logger.String("materialId", payload.MaterialID),
	)

	job, err := w.store.GetJob(ctx, payload.JobID)
	if err != nil {
		// The record may trail the queue write, or the store may be
		// having a moment; either way the next delivery gets a fresh
		// read.
		log.Warn("Job record not readable", logger.Error(err))
		return fmt.Errorf("job %s: %w", payload.JobID, err)
	}

	job.Attempts++
	job.Status = models.JobProcessing
	job.UpdatedAt = time.Now()
	if err := w.store.UpdateJob(ctx, job); err != nil {
		log.Error("Failed to update job", logger.Error(err))
	}

	log.Info("Job started", logger.Int("attempt", job.Attempts))

	runErr := w.runner.Run(ctx, payload.MaterialID)
	w.syncJobProgress(ctx, job)

	if runErr == nil {
		job.Status = models.JobCompleted
		job.FailedReason = ""
		job.UpdatedAt = time.Now()
		if err := w.store.UpdateJob(ctx, job); err != nil {
			log.Error("Failed to update job", logger.Error(err))
		}
		log.Info("Job completed")
		return nil
	}

	job.FailedReason = runErr.Error()
	job.UpdatedAt = time.Now()

	// Job-level classification is wider than the chunk-level one:
	// resource failures skip chunk retries but a redelivery gets a
	// fresh store round trip.
	exhausted := job.Attempts >= job.MaxAttempts
	retryable := pipeline.IsJobRetryable(runErr)

	if retryable && !exhausted {
		// Back into the queue; the next delivery resumes from the first
		// stage that has not completed. Until then the material stays
		// in processing with the failure visible as LastError.
		job.Status = models.JobPending
		job.ScheduledFor = time.Now().Add(w.retryBase * time.Duration(job.Attempts))
		if err := w.store.UpdateJob(ctx, job); err != nil {
			log.Error("Failed to update job", logger.Error(err))
		}
		w.requeueFailedTasks(ctx, job.MaterialID)
		log.Warn("Job failed, will retry",
			logger.Int("attempt", job.Attempts),
			logger.Time("nextDelivery", job.ScheduledFor),
			logger.Error(runErr),
		)
		return runErr
	}

	job.Status = models.JobFailed
	if err := w.store.UpdateJob(ctx, job); err != nil {
		log.Error("Failed to update job", logger.Error(err))
	}
	log.Error("Job failed terminally",
		logger.Int("attempts", job.Attempts),
		logger.Bool("retryable", retryable),
		logger.Error(runErr),
	)

	if !retryable {
		return fmt.Errorf("%v: %w", runErr, asynq.SkipRetry)
	}
	return runErr
}

// requeueFailedTasks moves failed tasks back to pending ahead of the
// scheduled redelivery, so the material reads as processing rather than
// failed while retries remain. The failure stays visible via LastError.
func (w *MaterialWorker) requeueFailedTasks(ctx context.Context, materialID string) {
	tasks, err := w.store.GetTasksForMaterial(ctx, materialID)
	if err != nil {
		w.logger.Warn("Failed to load tasks for requeue",
			logger.String("materialId", materialID),
			logger.Error(err),
		)
		return
	}

	now := time.Now()
	for i := range tasks {
		if !tasks[i].Requeue(now) {
			continue
		}
		if err := w.store.UpdateTask(ctx, &tasks[i]); err != nil {
			w.logger.Warn("Failed to requeue task",
				logger.String("taskId", tasks[i].ID),
				logger.Error(err),
			)
		}
	}

	material, err := w.store.GetMaterial(ctx, materialID)
	if err != nil {
		w.logger.Warn("Failed to load material for requeue",
			logger.String("materialId", materialID),
			logger.Error(err),
		)
		return
	}
	material.Status = models.DeriveMaterialStatus(tasks)
	material.UpdatedAt = now
	if err := w.store.UpdateMaterial(ctx, material); err != nil {
		w.logger.Warn("Failed to update material for requeue",
			logger.String("materialId", materialID),
			logger.Error(err),
		)
	}
}

// syncJobProgress mirrors the material's aggregate progress onto the job.
func (w *MaterialWorker) syncJobProgress(ctx context.Context, job *models.Job) {
	tasks, err := w.store.GetTasksForMaterial(ctx, job.MaterialID)
	if err != nil {
		w.logger.Warn("Failed to load tasks for progress",
			logger.String("jobId", job.ID),
			logger.Error(err),
		)
		return
	}
	job.Progress = models.AggregateProgress(tasks)
}

func (w *MaterialWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()

	return nil
}
