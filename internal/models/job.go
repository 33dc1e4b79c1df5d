package models

import "time"

type JobType string

const (
	JobTypeDownload     JobType = "download"
	JobTypeTranscribe   JobType = "transcribe"
	JobTypeAnalyze      JobType = "analyze"
	JobTypeFullPipeline JobType = "full_pipeline"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetry      JobStatus = "retry"
)

// Job is one unit of background work tied to exactly one call record.
// At most one job per call record may be in "processing" at a time; the
// claim query in the repository enforces this atomically.
type Job struct {
	ID           string     `json:"id" db:"id"`
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	CallRecordID string     `json:"call_record_id" db:"call_record_id"`
	Type         JobType    `json:"type" db:"job_type"`
	Status       JobStatus  `json:"status" db:"status"`
	Priority     int        `json:"priority" db:"priority"`
	Attempts     int        `json:"attempts" db:"attempts"`
	MaxAttempts  int        `json:"max_attempts" db:"max_attempts"`
	LastError    *string    `json:"last_error,omitempty" db:"last_error"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty" db:"next_retry_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the job can never be claimed again.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
