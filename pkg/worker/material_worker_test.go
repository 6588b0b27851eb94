package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/material-pipeline/internal/models"
	"github.com/studyforge/material-pipeline/internal/pipeline"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
	"github.com/studyforge/material-pipeline/pkg/queue"
)

type stubBlobs struct {
	blobs map[string][]byte
}

func (s *stubBlobs) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	s.blobs[key] = data
	return key, nil
}

func (s *stubBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.blobs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *stubBlobs) Delete(ctx context.Context, key string) error {
	delete(s.blobs, key)
	return nil
}

type stubExtractor struct {
	text string
}

func (s *stubExtractor) ExtractText(ctx context.Context, kind models.MaterialKind, r io.Reader) (string, error) {
	return s.text, nil
}

type stubGenerator struct {
	respond func(prompt string) (string, error)
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return s.respond(prompt)
}

const (
	workerAnalysis  = `{"category":"Biology","topics":["cells"],"summary":"Cell division."}`
	workerEmbedding = `[0.1, 0.2, 0.3]`
	workerQuestions = `[{"text":"What divides during mitosis?","options":["Nucleus","Wall","Root","Leaf"],"correctIndex":0,"explanation":"The nucleus divides."}]`
)

func answerEverything(prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "analyzing uploaded course material"):
		return workerAnalysis, nil
	case strings.Contains(prompt, "embedding vector"):
		return workerEmbedding, nil
	default:
		return workerQuestions, nil
	}
}

// seedJob writes a material, its four stage tasks, and a job record.
func seedJob(t *testing.T, st store.Store) *models.Job {
	t.Helper()

	ctx := context.Background()
	now := time.Now()
	material := &models.Material{
		ID:        "mat-1",
		OwnerID:   "user-1",
		BlobRef:   "raw/mat-1.pdf",
		Kind:      models.KindDocument,
		Status:    models.MaterialPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateMaterial(ctx, material))

	for i, stage := range models.Stages {
		task := &models.ProcessingTask{
			ID:         "task-" + string(rune('1'+i)),
			MaterialID: material.ID,
			Stage:      stage,
			Status:     models.TaskPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		require.NoError(t, st.CreateTask(ctx, task))
	}

	job := &models.Job{
		ID:          "job-1",
		MaterialID:  material.ID,
		Status:      models.JobPending,
		MaxAttempts: 4,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.CreateJob(ctx, job))
	return job
}

func newTestWorker(st store.Store, blobs *stubBlobs, gen pipeline.Generator) *MaterialWorker {
	runner := pipeline.NewRunner(st, blobs, gen, &stubExtractor{text: "mitosis notes"},
		pipeline.NewLimiter(3), logger.NewTestLogger(), pipeline.Config{
			Batch:        pipeline.BatchConfig{Concurrency: 3, BatchDelay: time.Millisecond},
			Retry:        pipeline.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
			StageTimeout: time.Minute,
		})
	return NewMaterialWorker(
		&Config{Concurrency: 1, RetryBaseDelay: 5 * time.Second},
		runner, st, logger.NewTestLogger(),
	)
}

func jobTask(t *testing.T, job *models.Job) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(queue.JobPayload{JobID: job.ID, MaterialID: job.MaterialID})
	require.NoError(t, err)
	return asynq.NewTask(queue.TaskTypeMaterialProcess, payload)
}

func TestHandleMaterialProcess_Success(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st)
	blobs := &stubBlobs{blobs: map[string][]byte{"raw/mat-1.pdf": []byte("%PDF-raw")}}
	w := newTestWorker(st, blobs, &stubGenerator{respond: answerEverything})

	require.NoError(t, w.handleMaterialProcess(context.Background(), jobTask(t, job)))

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, 1, got.Attempts)
}

func TestHandleMaterialProcess_MissingBlobIsRedelivered(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st)
	blobs := &stubBlobs{blobs: map[string][]byte{}}
	w := newTestWorker(st, blobs, &stubGenerator{respond: answerEverything})

	start := time.Now()
	err := w.handleMaterialProcess(context.Background(), jobTask(t, job))
	require.Error(t, err)

	// a missing blob is a resource failure: terminal for the chunk,
	// but the job goes back to the queue for a fresh store round trip
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	got, gerr := st.GetJob(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotEmpty(t, got.FailedReason)
	assert.True(t, got.ScheduledFor.After(start), "next delivery should be scheduled ahead")
}

func TestHandleMaterialProcess_RetryPendingKeepsMaterialProcessing(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st)
	blobs := &stubBlobs{blobs: map[string][]byte{"raw/mat-1.pdf": []byte("%PDF-raw")}}
	gen := &stubGenerator{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "analyzing uploaded course material") {
			return "", &pipeline.TransientError{Err: errors.New("upstream 503")}
		}
		return answerEverything(prompt)
	}}
	w := newTestWorker(st, blobs, gen)

	err := w.handleMaterialProcess(context.Background(), jobTask(t, job))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	// extraction completed, analysis failed, retries remain: the
	// material stays in processing with the failure on LastError
	material, merr := st.GetMaterial(context.Background(), job.MaterialID)
	require.NoError(t, merr)
	assert.Equal(t, models.MaterialProcessing, material.Status)
	assert.NotEmpty(t, material.LastError)

	tasks, terr := st.GetTasksForMaterial(context.Background(), job.MaterialID)
	require.NoError(t, terr)
	assert.Equal(t, models.TaskCompleted, tasks[0].Status)
	assert.Equal(t, models.TaskPending, tasks[1].Status)
}

func TestHandleMaterialProcess_ValidationErrorIsTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st)
	blobs := &stubBlobs{blobs: map[string][]byte{"raw/mat-1.pdf": []byte("%PDF-raw")}}
	gen := &stubGenerator{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "analyzing uploaded course material") {
			return "not json at all", nil
		}
		return answerEverything(prompt)
	}}
	w := newTestWorker(st, blobs, gen)

	err := w.handleMaterialProcess(context.Background(), jobTask(t, job))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	got, gerr := st.GetJob(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.JobFailed, got.Status)

	material, merr := st.GetMaterial(context.Background(), job.MaterialID)
	require.NoError(t, merr)
	assert.Equal(t, models.MaterialFailed, material.Status)
}

func TestHandleMaterialProcess_ExhaustedAttemptsFailTerminally(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st)
	job.Attempts = 3
	require.NoError(t, st.UpdateJob(context.Background(), job))

	blobs := &stubBlobs{blobs: map[string][]byte{}}
	w := newTestWorker(st, blobs, &stubGenerator{respond: answerEverything})

	err := w.handleMaterialProcess(context.Background(), jobTask(t, job))
	require.Error(t, err)

	got, gerr := st.GetJob(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, 4, got.Attempts)
}

func TestHandleMaterialProcess_BadPayloadSkipsRetry(t *testing.T) {
	st := store.NewMemoryStore()
	blobs := &stubBlobs{blobs: map[string][]byte{}}
	w := newTestWorker(st, blobs, &stubGenerator{respond: answerEverything})

	task := asynq.NewTask(queue.TaskTypeMaterialProcess, []byte("{"))
	err := w.handleMaterialProcess(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
