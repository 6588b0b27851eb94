package models

import (
	"time"
)

// MaterialKind distinguishes how raw content gets its text extracted.
type MaterialKind string

const (
	KindDocument MaterialKind = "document"
	KindImage    MaterialKind = "image"
)

// MaterialStatus is derived from the material's task statuses and is
// never set independently. See DeriveMaterialStatus.
type MaterialStatus string

const (
	MaterialPending    MaterialStatus = "pending"
	MaterialProcessing MaterialStatus = "processing"
	MaterialCompleted  MaterialStatus = "completed"
	MaterialFailed     MaterialStatus = "failed"
)

// Material is an uploaded document or image plus its derived
// processing outputs.
type Material struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"ownerId"`
	BlobRef       string         `json:"blobRef"`
	Kind          MaterialKind   `json:"kind"`
	Status        MaterialStatus `json:"status"`
	ExtractedText string         `json:"extractedText,omitempty"`
	Category      string         `json:"category,omitempty"`
	Topics        []string       `json:"topics,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Questions     []Question     `json:"questions,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// DeriveMaterialStatus computes the material status from its tasks:
// failed if any task failed, completed if all tasks completed,
// processing if any task has left pending, otherwise pending.
func DeriveMaterialStatus(tasks []ProcessingTask) MaterialStatus {
	if len(tasks) == 0 {
		return MaterialPending
	}

	completed := 0
	started := false
	for _, t := range tasks {
		switch t.Status {
		case TaskFailed:
			return MaterialFailed
		case TaskCompleted:
			completed++
			started = true
		case TaskProcessing:
			started = true
		}
	}

	if completed == len(tasks) {
		return MaterialCompleted
	}
	if started {
		return MaterialProcessing
	}
	return MaterialPending
}

// AggregateProgress is the arithmetic mean of the tasks' progress values.
func AggregateProgress(tasks []ProcessingTask) float64 {
	if len(tasks) == 0 {
		return 0
	}

	var sum float64
	for _, t := range tasks {
		sum += t.Progress
	}
	return sum / float64(len(tasks))
}
