package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/studyforge/material-pipeline/internal/models"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
	"github.com/studyforge/material-pipeline/pkg/storage"
)

// Generator is the external generation provider capability: fallible,
// rate-limited, latency-variable.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TextExtractor is the external raw-text extraction capability.
type TextExtractor interface {
	ExtractText(ctx context.Context, kind models.MaterialKind, r io.Reader) (string, error)
}

// Config tunes the stage runner.
type Config struct {
	// ChunkSize bounds embedding/question chunks, in characters.
	ChunkSize int
	// QuestionChunkThreshold is the text length above which
	// question_generation chunks its input instead of running once.
	QuestionChunkThreshold int
	// QuestionsPerChunk asked of the provider per generation call.
	QuestionsPerChunk int
	// Batch caps concurrent provider calls and paces batches.
	Batch BatchConfig
	// Retry wraps every provider and extraction call.
	Retry RetryPolicy
	// StageTimeout is the wall-clock budget for one stage. Exceeding it
	// is a retryable timeout handled by the job-level retry.
	StageTimeout time.Duration
}

// ApplyDefaults fills zero values with working defaults.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 4000
	}
	if c.QuestionChunkThreshold <= 0 {
		c.QuestionChunkThreshold = 6000
	}
	if c.QuestionsPerChunk <= 0 {
		c.QuestionsPerChunk = 5
	}
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = 3
	}
	if c.Batch.BatchDelay <= 0 {
		c.Batch.BatchDelay = time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 2 * time.Second
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
}

// Runner executes the stage sequence for one material. Stages run
// strictly in order; a failed stage stops the run and fails the
// material. The Runner is the single writer of its material's task
// records while it holds the job.
type Runner struct {
	store     store.Store
	blobs     storage.Storage
	generator Generator
	extractor TextExtractor
	limiter   *Limiter
	logger    logger.Logger
	cfg       Config
}

// NewRunner wires a stage runner. The limiter must be the process-wide
// one so concurrent jobs share a single provider cap.
func NewRunner(
	st store.Store,
	blobs storage.Storage,
	gen Generator,
	ext TextExtractor,
	limiter *Limiter,
	log logger.Logger,
	cfg Config,
) *Runner {
	cfg.ApplyDefaults()
	return &Runner{
		store:     st,
		blobs:     blobs,
		generator: gen,
		extractor: ext,
		limiter:   limiter,
		logger:    log,
		cfg:       cfg,
	}
}

// Run drives every stage of the material to completion, resuming from
// the first stage that has not completed. Returns the error of the
// first failing stage.
func (r *Runner) Run(ctx context.Context, materialID string) error {
	material, err := r.store.GetMaterial(ctx, materialID)
	if err != nil {
		return &ResourceError{Err: fmt.Errorf("load material: %w", err)}
	}

	tasks, err := r.store.GetTasksForMaterial(ctx, materialID)
	if err != nil {
		return &ResourceError{Err: fmt.Errorf("load tasks: %w", err)}
	}

	byStage := make(map[models.Stage]*models.ProcessingTask, len(tasks))
	for i := range tasks {
		byStage[tasks[i].Stage] = &tasks[i]
	}

	for _, stage := range models.Stages {
		task, ok := byStage[stage]
		if !ok {
			return fmt.Errorf("material %s has no task for stage %s", materialID, stage)
		}
		if task.Status == models.TaskCompleted {
			continue
		}

		if err := r.runStage(ctx, material, task, tasks); err != nil {
			r.failStage(ctx, material, task, tasks, err)
			return err
		}
	}

	return nil
}

func (r *Runner) runStage(ctx context.Context, material *models.Material, task *models.ProcessingTask, tasks []models.ProcessingTask) error {
	log := r.logger.With(
		logger.String("materialId", material.ID),
		logger.String("stage", string(task.Stage)),
	)
	log.Info("Stage starting", logger.Int("priorAttempts", task.Attempts))

	task.MarkProcessing(time.Now())
	if err := r.store.UpdateTask(ctx, task); err != nil {
		return &ResourceError{Err: fmt.Errorf("update task: %w", err)}
	}
	r.syncMaterial(ctx, material, tasks)

	stageCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.StageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, r.cfg.StageTimeout)
		defer cancel()
	}

	var (
		result *models.StageResult
		err    error
	)
	switch task.Stage {
	case models.StageTextExtraction:
		result, err = r.runTextExtraction(stageCtx, material, task)
	case models.StageContentAnalysis:
		result, err = r.runContentAnalysis(stageCtx, material, task)
	case models.StageEmbeddingGeneration:
		result, err = r.runEmbeddingGeneration(stageCtx, material, task)
	case models.StageQuestionGeneration:
		result, err = r.runQuestionGeneration(stageCtx, material, task)
	default:
		err = fmt.Errorf("unknown stage: %s", task.Stage)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &TimeoutError{Err: fmt.Errorf("stage %s exceeded %s", task.Stage, r.cfg.StageTimeout)}
		}
		return err
	}

	task.MarkCompleted(result, time.Now())
	if err := r.store.UpdateTask(ctx, task); err != nil {
		return &ResourceError{Err: fmt.Errorf("update task: %w", err)}
	}
	r.applyResult(material, result)
	r.syncMaterial(ctx, material, tasks)

	log.Info("Stage completed")
	return nil
}

func (r *Runner) runTextExtraction(ctx context.Context, material *models.Material, task *models.ProcessingTask) (*models.StageResult, error) {
	var text string
	op := func(ctx context.Context) error {
		blob, err := r.blobs.Get(ctx, material.BlobRef)
		if err != nil {
			return &ResourceError{Err: fmt.Errorf("get blob %s: %w", material.BlobRef, err)}
		}
		defer blob.Close()

		text, err = r.extractor.ExtractText(ctx, material.Kind, blob)
		return err
	}

	if _, err := r.cfg.Retry.Execute(ctx, op, r.attemptRecorder(ctx, task)); err != nil {
		return nil, err
	}

	return &models.StageResult{Text: &models.ExtractedText{Text: text}}, nil
}

func (r *Runner) runContentAnalysis(ctx context.Context, material *models.Material, task *models.ProcessingTask) (*models.StageResult, error) {
	var analysis models.Analysis
	op := func(ctx context.Context) error {
		raw, err := r.generator.Generate(ctx, AnalysisPrompt(material.ExtractedText))
		if err != nil {
			return err
		}

		parsed, err := parseAnalysis(raw)
		if err != nil {
			return err
		}
		analysis = *parsed
		return nil
	}

	if _, err := r.cfg.Retry.Execute(ctx, op, r.attemptRecorder(ctx, task)); err != nil {
		return nil, err
	}

	return &models.StageResult{Analysis: &analysis}, nil
}

func (r *Runner) runEmbeddingGeneration(ctx context.Context, material *models.Material, task *models.ProcessingTask) (*models.StageResult, error) {
	chunks := Split(material.ExtractedText, r.cfg.ChunkSize)
	onAttempt := r.attemptRecorder(ctx, task)

	vectors, err := RunBatches(ctx, chunks, r.cfg.Batch, r.limiter,
		func(ctx context.Context, _ int, chunk string) ([]float64, error) {
			var vector []float64
			op := func(ctx context.Context) error {
				raw, err := r.generator.Generate(ctx, EmbeddingPrompt(chunk))
				if err != nil {
					return err
				}
				v, err := parseVector(raw)
				if err != nil {
					return err
				}
				vector = v
				return nil
			}
			_, err := r.cfg.Retry.Execute(ctx, op, onAttempt)
			return vector, err
		},
		r.progressRecorder(ctx, task),
	)
	if err != nil {
		return nil, err
	}

	return &models.StageResult{Embedding: &models.Embedding{Vectors: vectors}}, nil
}

func (r *Runner) runQuestionGeneration(ctx context.Context, material *models.Material, task *models.ProcessingTask) (*models.StageResult, error) {
	text := material.ExtractedText
	chunks := []string{text}
	if len(text) > r.cfg.QuestionChunkThreshold {
		chunks = Split(text, r.cfg.ChunkSize)
	}
	onAttempt := r.attemptRecorder(ctx, task)

	perChunk, err := RunBatches(ctx, chunks, r.cfg.Batch, r.limiter,
		func(ctx context.Context, _ int, chunk string) ([]models.Question, error) {
			var questions []models.Question
			op := func(ctx context.Context) error {
				raw, err := r.generator.Generate(ctx, QuestionPrompt(chunk, r.cfg.QuestionsPerChunk))
				if err != nil {
					return err
				}
				q, err := parseQuestions(raw)
				if err != nil {
					return err
				}
				questions = q
				return nil
			}
			_, err := r.cfg.Retry.Execute(ctx, op, onAttempt)
			return questions, err
		},
		r.progressRecorder(ctx, task),
	)
	if err != nil {
		return nil, err
	}

	// Structurally invalid questions are a content-quality issue, not a
	// transient fault: drop them instead of retrying.
	var kept []models.Question
	dropped := 0
	for _, qs := range perChunk {
		for _, q := range qs {
			if err := q.Validate(); err != nil {
				dropped++
				continue
			}
			kept = append(kept, q)
		}
	}
	if dropped > 0 {
		r.logger.Warn("Dropped invalid generated questions",
			logger.String("materialId", material.ID),
			logger.Int("dropped", dropped),
			logger.Int("kept", len(kept)),
		)
	}

	return &models.StageResult{Questions: &models.QuestionSet{Questions: kept}}, nil
}

// attemptRecorder persists the task's attempt count as the retry policy
// reports attempts, so status reads show activity across retries. The
// count is the deepest retry round reached in this run, not the total
// number of provider calls, so it stays within the policy's maximum no
// matter how many chunks the stage fans out over. The mutex serializes
// concurrent chunk units sharing one task record.
func (r *Runner) attemptRecorder(ctx context.Context, task *models.ProcessingTask) func(Attempt) {
	var mu sync.Mutex
	return func(a Attempt) {
		mu.Lock()
		defer mu.Unlock()
		if a.Number <= task.Attempts {
			return
		}
		task.Attempts = a.Number
		task.UpdatedAt = time.Now()
		if err := r.store.UpdateTask(ctx, task); err != nil {
			r.logger.Warn("Failed to persist attempt count",
				logger.String("taskId", task.ID),
				logger.Error(err),
			)
		}
	}
}

// progressRecorder persists completed/total after each batch.
func (r *Runner) progressRecorder(ctx context.Context, task *models.ProcessingTask) func(completed, total int) {
	return func(completed, total int) {
		if total == 0 {
			return
		}
		if !task.SetProgress(float64(completed)/float64(total), time.Now()) {
			return
		}
		if err := r.store.UpdateTask(ctx, task); err != nil {
			r.logger.Warn("Failed to persist task progress",
				logger.String("taskId", task.ID),
				logger.Error(err),
			)
		}
	}
}

// applyResult copies a completed stage's outputs onto the material.
func (r *Runner) applyResult(material *models.Material, result *models.StageResult) {
	switch {
	case result == nil:
	case result.Text != nil:
		material.ExtractedText = result.Text.Text
	case result.Analysis != nil:
		material.Category = result.Analysis.Category
		material.Topics = result.Analysis.Topics
		material.Summary = result.Analysis.Summary
	case result.Questions != nil:
		material.Questions = result.Questions.Questions
	}
}

// syncMaterial recomputes derived status and persists the material.
func (r *Runner) syncMaterial(ctx context.Context, material *models.Material, tasks []models.ProcessingTask) {
	material.Status = models.DeriveMaterialStatus(tasks)
	material.UpdatedAt = time.Now()
	if err := r.store.UpdateMaterial(ctx, material); err != nil {
		r.logger.Warn("Failed to persist material",
			logger.String("materialId", material.ID),
			logger.Error(err),
		)
	}
}

func (r *Runner) failStage(ctx context.Context, material *models.Material, task *models.ProcessingTask, tasks []models.ProcessingTask, cause error) {
	task.MarkFailed(cause.Error(), time.Now())
	if err := r.store.UpdateTask(ctx, task); err != nil {
		r.logger.Error("Failed to persist failed task",
			logger.String("taskId", task.ID),
			logger.Error(err),
		)
	}

	material.LastError = cause.Error()
	r.syncMaterial(ctx, material, tasks)

	r.logger.Error("Stage failed",
		logger.String("materialId", material.ID),
		logger.String("stage", string(task.Stage)),
		logger.Error(cause),
	)
}

// parseAnalysis decodes the provider's content_analysis response. A
// malformed response is a validation error and never retried.
func parseAnalysis(raw string) (*models.Analysis, error) {
	var analysis models.Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &analysis); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed analysis response: %v", err)}
	}
	if analysis.Category == "" {
		return nil, &ValidationError{Reason: "analysis response missing category"}
	}
	return &analysis, nil
}

func parseVector(raw string) ([]float64, error) {
	var vector []float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &vector); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed embedding response: %v", err)}
	}
	if len(vector) == 0 {
		return nil, &ValidationError{Reason: "empty embedding vector"}
	}
	return vector, nil
}

func parseQuestions(raw string) ([]models.Question, error) {
	var questions []models.Question
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &questions); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed question response: %v", err)}
	}
	return questions, nil
}
