// Package cdr parses provider CDR webhook payloads into canonical call records.
package cdr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/callsight/callsight-api/internal/models"
)

// Payload is the provider CDR shape delivered on call completion. Field names
// follow the reference provider's CDR push; extra vendor fields survive in
// the raw payload stored on the call record.
type Payload struct {
	SessionID    string `json:"session"`
	Src          string `json:"src"`
	Dst          string `json:"dst"`
	CallerName   string `json:"clid"`
	Start        string `json:"start"`
	Answer       string `json:"answer"`
	End          string `json:"end"`
	Duration     int    `json:"duration"`
	Billsec      int    `json:"billsec"`
	Disposition  string `json:"disposition"`
	SrcTrunkName string `json:"src_trunk_name"`
	DstTrunkName string `json:"dst_trunk_name"`
	DialContext  string `json:"dcontext"`
	RecordFiles  string `json:"recordfiles"`
}

const timeLayout = "2006-01-02 15:04:05"

// ValidationError marks a payload the receiver must reject with 400 rather
// than enqueue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid cdr payload: field %q %s", e.Field, e.Reason)
}

// Parse validates raw and maps it onto a CallRecord owned by conn. The record
// is complete except for its ID and timestamps, which the repository assigns.
func Parse(raw []byte, conn models.Connection) (models.CallRecord, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.CallRecord{}, &ValidationError{Field: "body", Reason: "is not valid JSON"}
	}

	if strings.TrimSpace(p.SessionID) == "" {
		return models.CallRecord{}, &ValidationError{Field: "session", Reason: "is required"}
	}

	startedAt, err := parseTime(p.Start)
	if err != nil {
		return models.CallRecord{}, &ValidationError{Field: "start", Reason: "is missing or malformed"}
	}
	endedAt, err := parseTime(p.End)
	if err != nil {
		return models.CallRecord{}, &ValidationError{Field: "end", Reason: "is missing or malformed"}
	}

	call := models.CallRecord{
		TenantID:          conn.TenantID,
		ConnectionID:      conn.ID,
		ExternalSessionID: strings.TrimSpace(p.SessionID),
		Direction:         DetermineDirection(conn, p.SrcTrunkName, p.DstTrunkName, p.DialContext),
		CallerNumber:      strings.TrimSpace(p.Src),
		CallerName:        strings.TrimSpace(p.CallerName),
		CalleeNumber:      strings.TrimSpace(p.Dst),
		StartedAt:         startedAt,
		EndedAt:           endedAt,
		DurationSeconds:   p.Duration,
		BillableSeconds:   p.Billsec,
		Disposition:       strings.ToUpper(strings.TrimSpace(p.Disposition)),
		TranscriptStatus:  models.ProcessingPending,
		AnalysisStatus:    models.ProcessingPending,
		RawPayload:        json.RawMessage(raw),
	}

	if answeredAt, err := parseTime(p.Answer); err == nil {
		call.AnsweredAt = &answeredAt
	}

	if rec := firstRecordingFile(p.RecordFiles); rec != "" {
		call.RecordingFilename = &rec
	}

	// An unanswered or unrecorded call has nothing to process; both pipeline
	// stages are skipped and no job is enqueued for it.
	if !call.IsAnswered() || !call.HasRecording() {
		call.TranscriptStatus = models.ProcessingSkipped
		call.AnalysisStatus = models.ProcessingSkipped
	}

	return call, nil
}

// ShouldProcess reports whether the parsed call needs a pipeline job.
func ShouldProcess(call models.CallRecord) bool {
	return call.IsAnswered() && call.HasRecording()
}

// DetermineDirection classifies the call from trunk metadata. A trunk the
// connection explicitly lists decides immediately. Otherwise a source trunk
// means the call entered through a trunk: inbound. A destination trunk with
// an internal dial context means an extension dialed out: outbound. Anything
// else stayed inside the PBX: internal. Total over all inputs, never fails.
func DetermineDirection(conn models.Connection, srcTrunk, dstTrunk, dialContext string) models.CallDirection {
	switch {
	case trunkListed(conn.InboundTrunks, srcTrunk):
		return models.DirectionInbound
	case trunkListed(conn.OutboundTrunks, dstTrunk):
		return models.DirectionOutbound
	case strings.TrimSpace(srcTrunk) != "":
		return models.DirectionInbound
	case strings.TrimSpace(dstTrunk) != "" && isInternalContext(dialContext):
		return models.DirectionOutbound
	default:
		return models.DirectionInternal
	}
}

// trunkListed matches a payload trunk name against a configured list.
// Trunk names compare case-insensitively.
func trunkListed(configured []string, trunk string) bool {
	trunk = strings.TrimSpace(trunk)
	if trunk == "" {
		return false
	}
	for _, name := range configured {
		if strings.EqualFold(strings.TrimSpace(name), trunk) {
			return true
		}
	}
	return false
}

// isInternalContext recognizes the provider's internal dial-plan contexts.
func isInternalContext(dialContext string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(dialContext)), "DLPN_")
}

// firstRecordingFile extracts the first filename from the provider's
// "@"-separated recordfiles list.
func firstRecordingFile(recordFiles string) string {
	for _, part := range strings.Split(recordFiles, "@") {
		if name := strings.TrimSpace(part); name != "" {
			return name
		}
	}
	return ""
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	return time.Parse(timeLayout, s)
}
