package models

import (
	"encoding/json"
	"time"
)

// AnalysisResult holds the structured AI output for one call. It is owned by
// the call record it analyzes; re-analysis overwrites the row wholesale and
// never merges with a prior partial result.
type AnalysisResult struct {
	ID           string          `json:"id" db:"id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	CallRecordID string          `json:"call_record_id" db:"call_record_id"`
	Summary      string          `json:"summary" db:"summary"`
	Sentiment    string          `json:"sentiment" db:"sentiment"`
	Keywords     []string        `json:"keywords" db:"keywords"`
	ActionItems  []string        `json:"action_items" db:"action_items"`
	Raw          json.RawMessage `json:"raw" db:"raw"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
