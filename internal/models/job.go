package models

import (
	"time"
)

// JobStatus of a queued processing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is a queued request to run the full stage sequence for one
// material. Transient failures retry the same job in place with an
// incremented attempt count.
type Job struct {
	ID           string    `json:"id"`
	MaterialID   string    `json:"materialId"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"maxAttempts"`
	FailedReason string    `json:"failedReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ScheduledFor time.Time `json:"scheduledFor,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
