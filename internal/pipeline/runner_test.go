package pipeline

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/material-pipeline/internal/models"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
)

type fakeBlobs struct {
	blobs map[string][]byte
}

func (f *fakeBlobs) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.blobs[key] = data
	return key, nil
}

func (f *fakeBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.blobs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Delete(ctx context.Context, key string) error {
	delete(f.blobs, key)
	return nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) ExtractText(ctx context.Context, kind models.MaterialKind, r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// fakeGenerator routes prompts to canned responses by stage. respond, if
// set, takes precedence.
type fakeGenerator struct {
	mu            sync.Mutex
	analysisResp  string
	embeddingResp string
	questionResp  string
	respond       func(prompt string) (string, error)

	analysisCalls  int
	embeddingCalls int
	questionCalls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(prompt, "analyzing uploaded course material"):
		f.analysisCalls++
	case strings.Contains(prompt, "embedding vector"):
		f.embeddingCalls++
	case strings.Contains(prompt, "practice questions"):
		f.questionCalls++
	}

	if f.respond != nil {
		return f.respond(prompt)
	}

	switch {
	case strings.Contains(prompt, "analyzing uploaded course material"):
		return f.analysisResp, nil
	case strings.Contains(prompt, "embedding vector"):
		return f.embeddingResp, nil
	default:
		return f.questionResp, nil
	}
}

const (
	validAnalysis  = `{"category":"Biology","topics":["cells","mitosis"],"summary":"Covers cell division."}`
	validEmbedding = `[0.1, 0.2, 0.3]`
	validQuestions = `[
		{"text":"What divides during mitosis?","options":["Nucleus","Wall","Root","Leaf"],"correctIndex":0,"explanation":"The nucleus divides."},
		{"text":"How many daughter cells result?","options":["One","Two","Three","Four"],"correctIndex":1,"explanation":"Mitosis yields two."}
	]`
)

func testRunnerConfig() Config {
	return Config{
		ChunkSize:              4000,
		QuestionChunkThreshold: 6000,
		QuestionsPerChunk:      5,
		Batch:                  BatchConfig{Concurrency: 3, BatchDelay: time.Millisecond},
		Retry:                  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		StageTimeout:           time.Minute,
	}
}

func seedMaterial(t *testing.T, st store.Store) *models.Material {
	t.Helper()

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
	require.NoError(t, st.CreateMaterial(context.Background(), material))

	for i, stage := range models.Stages {
		task := &models.ProcessingTask{
			ID:         "task-" + string(rune('1'+i)),
			MaterialID: material.ID,
			Stage:      stage,
			Status:     models.TaskPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		require.NoError(t, st.CreateTask(context.Background(), task))
	}

	return material
}

func TestRunner_FullPipelineSuccess(t *testing.T) {
	st := store.NewMemoryStore()
	text := strings.TrimSpace(strings.Repeat("word ", 1800)) // 8999 chars, 3 chunks

	material := seedMaterial(t, st)
	blobs := &fakeBlobs{blobs: map[string][]byte{material.BlobRef: []byte("%PDF-raw")}}
	extractor := &fakeExtractor{text: text}
	gen := &fakeGenerator{
		analysisResp:  validAnalysis,
		embeddingResp: validEmbedding,
		questionResp:  validQuestions,
	}

	runner := NewRunner(st, blobs, gen, extractor, NewLimiter(3), logger.NewTestLogger(), testRunnerConfig())
	require.NoError(t, runner.Run(context.Background(), material.ID))

	tasks, err := st.GetTasksForMaterial(context.Background(), material.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, models.TaskCompleted, task.Status, "stage %s", task.Stage)
		assert.Equal(t, 1.0, task.Progress, "stage %s", task.Stage)
		require.NotNil(t, task.Result, "stage %s", task.Stage)
		assert.LessOrEqual(t, task.Attempts, 3, "stage %s", task.Stage)
	}
	assert.Equal(t, 1.0, models.AggregateProgress(tasks))

	got, err := st.GetMaterial(context.Background(), material.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaterialCompleted, got.Status)
	assert.Equal(t, text, got.ExtractedText)
	assert.Equal(t, "Biology", got.Category)
	assert.Equal(t, []string{"cells", "mitosis"}, got.Topics)
	assert.NotEmpty(t, got.Summary)
	assert.Empty(t, got.LastError)

	// 8999 chars over the 6000 threshold: both chunked stages see 3 chunks
	assert.Equal(t, 3, gen.embeddingCalls)
	assert.Equal(t, 3, gen.questionCalls)
	assert.Len(t, got.Questions, 6)

	// embedding vectors land in chunk order on the task result
	var embeddingTask *models.ProcessingTask
	for i := range tasks {
		if tasks[i].Stage == models.StageEmbeddingGeneration {
			embeddingTask = &tasks[i]
		}
	}
	require.NotNil(t, embeddingTask.Result.Embedding)
	require.Len(t, embeddingTask.Result.Embedding.Vectors, 3)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, embeddingTask.Result.Embedding.Vectors[0])
}

func TestRunner_AttemptsCountRetryRoundsNotChunkCalls(t *testing.T) {
	st := store.NewMemoryStore()
	text := strings.TrimSpace(strings.Repeat("word ", 1800))

	material := seedMaterial(t, st)
	blobs := &fakeBlobs{blobs: map[string][]byte{material.BlobRef: []byte("raw")}}
	extractor := &fakeExtractor{text: text}
	gen := &fakeGenerator{
		analysisResp:  validAnalysis,
		embeddingResp: validEmbedding,
		questionResp:  validQuestions,
	}

	runner := NewRunner(st, blobs, gen, extractor, NewLimiter(3), logger.NewTestLogger(), testRunnerConfig())
	require.NoError(t, runner.Run(context.Background(), material.ID))

	// three chunks succeed first try, so the stage used one retry round
	require.Equal(t, 3, gen.embeddingCalls)

	tasks, err := st.GetTasksForMaterial(context.Background(), material.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Stage == models.StageEmbeddingGeneration || task.Stage == models.StageQuestionGeneration {
			assert.Equal(t, 1, task.Attempts, "stage %s", task.Stage)
		}
	}
}

func TestRunner_MalformedAnalysisFailsWithoutRetry(t *testing.T) {
	st := store.NewMemoryStore()
	material := seedMaterial(t, st)
	blobs := &fakeBlobs{blobs: map[string][]byte{material.BlobRef: []byte("raw")}}
	extractor := &fakeExtractor{text: "short text"}
	gen := &fakeGenerator{analysisResp: "I'm sorry, I can't produce JSON."}

	runner := NewRunner(st, blobs, gen, extractor, NewLimiter(3), logger.NewTestLogger(), testRunnerConfig())
	err := runner.Run(context.Background(), material.ID)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)

	// malformed output never retries and later stages never run
	assert.Equal(t, 1, gen.analysisCalls)
	assert.Zero(t, gen.embeddingCalls)
	assert.Zero(t, gen.questionCalls)

	tasks, terr := st.GetTasksForMaterial(context.Background(), material.ID)
	require.NoError(t, terr)
	byStage := map[models.Stage]models.ProcessingTask{}
	for _, task := range tasks {
		byStage[task.Stage] = task
	}
	assert.Equal(t, models.TaskCompleted, byStage[models.StageTextExtraction].Status)
	assert.Equal(t, models.TaskFailed, byStage[models.StageContentAnalysis].Status)
	assert.NotEmpty(t, byStage[models.StageContentAnalysis].Error)
	assert.Equal(t, 1, byStage[models.StageContentAnalysis].Attempts)
	assert.Equal(t, models.TaskPending, byStage[models.StageEmbeddingGeneration].Status)
	assert.Equal(t, models.TaskPending, byStage[models.StageQuestionGeneration].Status)

	got, merr := st.GetMaterial(context.Background(), material.ID)
	require.NoError(t, merr)
	assert.Equal(t, models.MaterialFailed, got.Status)
	assert.NotEmpty(t, got.LastError)
}

func TestRunner_TransientFailureRetriesThenSucceeds(t *testing.T) {
	st := store.NewMemoryStore()
	material := seedMaterial(t, st)
	blobs := &fakeBlobs{blobs: map[string][]byte{material.BlobRef: []byte("raw")}}
	extractor := &fakeExtractor{text: "short text"}

	failures := 2
	gen := &fakeGenerator{}
	gen.respond = func(prompt string) (string, error) {
		if strings.Contains(prompt, "embedding vector") && failures > 0 {
			failures--
			return "", &RateLimitError{Message: "slow down"}
		}
		switch {
		case strings.Contains(prompt, "analyzing uploaded course material"):
			return validAnalysis, nil
		case strings.Contains(prompt, "embedding vector"):
			return validEmbedding, nil
		default:
			return validQuestions, nil
		}
	}

	runner := NewRunner(st, blobs, gen, extractor, NewLimiter(3), logger.NewTestLogger(), testRunnerConfig())
	require.NoError(t, runner.Run(context.Background(), material.ID))

	assert.Equal(t, 3, gen.embeddingCalls)

	tasks, err := st.GetTasksForMaterial(context.Background(), material.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, models.TaskCompleted, task.Status, "stage %s", task.Stage)
		if task.Stage == models.StageEmbeddingGeneration {
			assert.Equal(t, 3, task.Attempts)
		}
	}
}

func TestRunner_ResumesFromFirstIncompleteStage(t *testing.T) {
	st := store.NewMemoryStore()
	text := "already extracted text"
	material := seedMaterial(t, st)

	// first two stages already completed by a previous delivery
	now := time.Now()
	tasks, err := st.GetTasksForMaterial(context.Background(), material.ID)
	require.NoError(t, err)
	for i := range tasks {
		task := tasks[i]
		switch task.Stage {
		case models.StageTextExtraction:
			task.MarkProcessing(now)
			task.MarkCompleted(&models.StageResult{Text: &models.ExtractedText{Text: text}}, now)
		case models.StageContentAnalysis:
			task.MarkProcessing(now)
			task.MarkCompleted(&models.StageResult{Analysis: &models.Analysis{Category: "Biology"}}, now)
		}
		require.NoError(t, st.UpdateTask(context.Background(), &task))
	}
	material.ExtractedText = text
	material.Category = "Biology"
	require.NoError(t, st.UpdateMaterial(context.Background(), material))

	blobs := &fakeBlobs{blobs: map[string][]byte{}}
	extractor := &fakeExtractor{text: "should not be used"}
	gen := &fakeGenerator{
		embeddingResp: validEmbedding,
		questionResp:  validQuestions,
	}

	runner := NewRunner(st, blobs, gen, extractor, NewLimiter(3), logger.NewTestLogger(), testRunnerConfig())
	require.NoError(t, runner.Run(context.Background(), material.ID))

	// completed stages are skipped, not re-run
	assert.Zero(t, extractor.calls)
	assert.Zero(t, gen.analysisCalls)
	assert.Equal(t, 1, gen.embeddingCalls)
	assert.Equal(t, 1, gen.questionCalls)

	got, err := st.GetMaterial(context.Background(), material.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaterialCompleted, got.Status)
	assert.Equal(t, text, got.ExtractedText)
}

func TestRunner_DropsInvalidQuestions(t *testing.T) {
	st := store.NewMemoryStore()
	material := seedMaterial(t, st)
	blobs := &fakeBlobs{blobs: map[string][]byte{material.BlobRef: []byte("raw")}}
	extractor := &fakeExtractor{text: "short text"}
	gen := &fakeGenerator{
		analysisResp:  validAnalysis,
		embeddingResp: validEmbedding,
		questionResp: `[
			{"text":"Valid?","options":["A","B","C","D"],"correctIndex":2,"explanation":"Yes."},
			{"text":"Too few options","options":["A","B"],"correctIndex":0,"explanation":"No."},
			{"text":"Index out of range","options":["A","B","C","D"],"correctIndex":7,"explanation":"No."}
		]`,
	}

	runner := NewRunner(st, blobs, gen, extractor, NewLimiter(3), logger.NewTestLogger(), testRunnerConfig())
	require.NoError(t, runner.Run(context.Background(), material.ID))

	got, err := st.GetMaterial(context.Background(), material.ID)
	require.NoError(t, err)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, "Valid?", got.Questions[0].Text)
	assert.Equal(t, models.MaterialCompleted, got.Status)
}

func TestRunner_MissingBlobIsResourceError(t *testing.T) {
	st := store.NewMemoryStore()
	material := seedMaterial(t, st)
	blobs := &fakeBlobs{blobs: map[string][]byte{}}
	extractor := &fakeExtractor{text: "never reached"}
	gen := &fakeGenerator{}

	runner := NewRunner(st, blobs, gen, extractor, NewLimiter(3), logger.NewTestLogger(), testRunnerConfig())
	err := runner.Run(context.Background(), material.ID)

	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.False(t, IsRetryable(err))

	got, merr := st.GetMaterial(context.Background(), material.ID)
	require.NoError(t, merr)
	assert.Equal(t, models.MaterialFailed, got.Status)
}

func TestRunner_StageTimeoutIsRetryable(t *testing.T) {
	st := store.NewMemoryStore()
	material := seedMaterial(t, st)
	blobs := &fakeBlobs{blobs: map[string][]byte{material.BlobRef: []byte("raw")}}
	extractor := &fakeExtractor{text: "short text"}

	gen := &fakeGenerator{}
	gen.respond = func(prompt string) (string, error) {
		return "", context.DeadlineExceeded
	}

	cfg := testRunnerConfig()
	cfg.StageTimeout = 10 * time.Millisecond
	cfg.Retry = RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}

	runner := NewRunner(st, blobs, gen, extractor, NewLimiter(3), logger.NewTestLogger(), cfg)
	err := runner.Run(context.Background(), material.ID)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, IsRetryable(err))
}
