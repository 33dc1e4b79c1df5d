package models

import (
	"encoding/json"
	"time"
)

type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
	DirectionInternal CallDirection = "internal"
)

// ProcessingStatus tracks one pipeline stage (transcription or analysis) on a call.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
	ProcessingSkipped    ProcessingStatus = "skipped"
)

// CallRecord is the root entity for one PBX call. It is created once by the
// webhook receiver and progressively filled in by pipeline steps. Both
// transcript and analysis status are "skipped" iff the call was never
// answered or carries no recording.
type CallRecord struct {
	ID                string           `json:"id" db:"id"`
	TenantID          string           `json:"tenant_id" db:"tenant_id"`
	ConnectionID      string           `json:"connection_id" db:"connection_id"`
	ExternalSessionID string           `json:"external_session_id" db:"external_session_id"`
	Direction         CallDirection    `json:"direction" db:"direction"`
	CallerNumber      string           `json:"caller_number" db:"caller_number"`
	CallerName        string           `json:"caller_name" db:"caller_name"`
	CalleeNumber      string           `json:"callee_number" db:"callee_number"`
	StartedAt         time.Time        `json:"started_at" db:"started_at"`
	AnsweredAt        *time.Time       `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt           time.Time        `json:"ended_at" db:"ended_at"`
	DurationSeconds   int              `json:"duration_seconds" db:"duration_seconds"`
	BillableSeconds   int              `json:"billable_seconds" db:"billable_seconds"`
	Disposition       string           `json:"disposition" db:"disposition"`
	RecordingFilename *string          `json:"recording_filename,omitempty" db:"recording_filename"`
	RecordingPath     *string          `json:"recording_path,omitempty" db:"recording_path"`
	RecordingBytes    *int64           `json:"recording_bytes,omitempty" db:"recording_bytes"`
	TranscriptPath    *string          `json:"transcript_path,omitempty" db:"transcript_path"`
	TranscriptStatus  ProcessingStatus `json:"transcript_status" db:"transcript_status"`
	AnalysisStatus    ProcessingStatus `json:"analysis_status" db:"analysis_status"`
	RawPayload        json.RawMessage  `json:"raw_payload,omitempty" db:"raw_payload"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// IsAnswered reports whether the call was picked up.
func (c *CallRecord) IsAnswered() bool {
	return c.AnsweredAt != nil
}

// HasRecording reports whether the PBX produced a recording for this call.
func (c *CallRecord) HasRecording() bool {
	return c.RecordingFilename != nil && *c.RecordingFilename != ""
}

// IsDownloaded reports whether the recording has already been copied to blob
// storage. The orchestrator uses this to skip the download step on retries.
func (c *CallRecord) IsDownloaded() bool {
	return c.RecordingPath != nil && *c.RecordingPath != ""
}

// IsTranscribed reports whether a transcript has been produced and stored.
func (c *CallRecord) IsTranscribed() bool {
	return c.TranscriptStatus == ProcessingCompleted && c.TranscriptPath != nil
}

// IsAnalyzed reports whether AI analysis has completed for this call.
func (c *CallRecord) IsAnalyzed() bool {
	return c.AnalysisStatus == ProcessingCompleted
}
