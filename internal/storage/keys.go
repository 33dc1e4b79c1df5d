package storage

import (
	"fmt"
	"strings"
	"time"
)

const (
	ContentTypeAudio      = "audio/wav"
	ContentTypeTranscript = "application/json"
)

// RecordingKey builds the deterministic object key for a call recording:
// {tenant}/{yyyy-mm}/{filename}. Deterministic keys make the download step
// idempotent: re-running it overwrites the same object.
func RecordingKey(tenantID string, callStart time.Time, filename string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, callStart.UTC().Format("2006-01"), filename)
}

// TranscriptKey derives the transcript object key from the recording key.
func TranscriptKey(recordingKey string) string {
	base := recordingKey
	if i := strings.LastIndex(base, "."); i > strings.LastIndex(base, "/") {
		base = base[:i]
	}
	return base + ".transcript.json"
}
