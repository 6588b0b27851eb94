package models

import (
	"fmt"
	"time"
)

// Stage names one step of the processing pipeline.
type Stage string

const (
	StageTextExtraction      Stage = "text_extraction"
	StageContentAnalysis     Stage = "content_analysis"
	StageEmbeddingGeneration Stage = "embedding_generation"
	StageQuestionGeneration  Stage = "question_generation"
)

// Stages lists all stages in execution order. A later stage only starts
// after its predecessor's task completed.
var Stages = []Stage{
	StageTextExtraction,
	StageContentAnalysis,
	StageEmbeddingGeneration,
	StageQuestionGeneration,
}

// TaskStatus of a ProcessingTask: pending -> processing -> completed|failed.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ProcessingTask is one stage's execution record for one material.
type ProcessingTask struct {
	ID         string       `json:"id"`
	MaterialID string       `json:"materialId"`
	Stage      Stage        `json:"stage"`
	Status     TaskStatus   `json:"status"`
	Progress   float64      `json:"progress"`
	Result     *StageResult `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	Attempts   int          `json:"attempts"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// StageResult is a tagged union: exactly one field is set, matching the
// task's stage.
type StageResult struct {
	Text      *ExtractedText `json:"text,omitempty"`
	Analysis  *Analysis      `json:"analysis,omitempty"`
	Embedding *Embedding     `json:"embedding,omitempty"`
	Questions *QuestionSet   `json:"questions,omitempty"`
}

// ExtractedText is the text_extraction stage result.
type ExtractedText struct {
	Text string `json:"text"`
}

// Analysis is the content_analysis stage result.
type Analysis struct {
	Category string   `json:"category"`
	Topics   []string `json:"topics"`
	Summary  string   `json:"summary"`
}

// Embedding is the embedding_generation stage result: one vector per
// chunk, in chunk order.
type Embedding struct {
	Vectors [][]float64 `json:"vectors"`
}

// QuestionSet is the question_generation stage result.
type QuestionSet struct {
	Questions []Question `json:"questions"`
}

// Question is a generated multiple-choice question.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
}

// Validate checks the structural rules for a generated question: exactly
// 4 options, correct index in range, non-empty text and explanation.
func (q *Question) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("question text is empty")
	}
	if len(q.Options) != 4 {
		return fmt.Errorf("question has %d options, want 4", len(q.Options))
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= 4 {
		return fmt.Errorf("correct index %d out of range [0,4)", q.CorrectIndex)
	}
	if q.Explanation == "" {
		return fmt.Errorf("question explanation is empty")
	}
	return nil
}

// MarkProcessing moves a pending or failed task back into processing and
// resets its progress and attempt count for the new run. Re-applying on
// a task already processing or completed is a no-op, so a redelivered
// job can't regress state.
func (t *ProcessingTask) MarkProcessing(now time.Time) bool {
	if t.Status == TaskProcessing || t.Status == TaskCompleted {
		return false
	}
	t.Status = TaskProcessing
	t.Progress = 0
	t.Attempts = 0
	t.Error = ""
	t.UpdatedAt = now
	return true
}

// SetProgress raises the task's progress. Progress is monotonically
// non-decreasing within a run; lower values are ignored.
func (t *ProcessingTask) SetProgress(p float64, now time.Time) bool {
	if p < t.Progress || t.Status != TaskProcessing {
		return false
	}
	if p > 1 {
		p = 1
	}
	t.Progress = p
	t.UpdatedAt = now
	return true
}

// MarkCompleted finishes the task at progress 1.0 with its result.
// Idempotent: applying a completion twice does not change anything.
func (t *ProcessingTask) MarkCompleted(result *StageResult, now time.Time) bool {
	if t.Status == TaskCompleted {
		return false
	}
	t.Status = TaskCompleted
	t.Progress = 1
	t.Result = result
	t.Error = ""
	t.UpdatedAt = now
	return true
}

// Requeue moves a failed task back to pending ahead of a scheduled job
// redelivery. The error text stays visible until the rerun starts.
func (t *ProcessingTask) Requeue(now time.Time) bool {
	if t.Status != TaskFailed {
		return false
	}
	t.Status = TaskPending
	t.UpdatedAt = now
	return true
}

// MarkFailed records a terminal failure with the triggering error.
func (t *ProcessingTask) MarkFailed(reason string, now time.Time) bool {
	if t.Status == TaskCompleted || t.Status == TaskFailed {
		return false
	}
	t.Status = TaskFailed
	t.Error = reason
	t.UpdatedAt = now
	return true
}
