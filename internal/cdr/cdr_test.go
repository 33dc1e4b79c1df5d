package cdr

import (
	"strings"
	"testing"

	"github.com/callsight/callsight-api/internal/models"
)

var testConn = models.Connection{
	ID:       "conn-1",
	TenantID: "tenant-1",
}

func TestParseAnsweredRecordedCall(t *testing.T) {
	raw := []byte(`{
		"session": "1728312345.118",
		"src": "15551234567",
		"dst": "2001",
		"clid": "ACME Corp",
		"start": "2026-08-30 14:02:11",
		"answer": "2026-08-30 14:02:15",
		"end": "2026-08-30 14:10:40",
		"duration": 509,
		"billsec": 505,
		"disposition": "answered",
		"src_trunk_name": "sip-provider-1",
		"recordfiles": "auto-1728312345-15551234567-2001.wav@"
	}`)

	call, err := Parse(raw, testConn)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if call.TenantID != "tenant-1" || call.ConnectionID != "conn-1" {
		t.Errorf("ownership not taken from connection: tenant=%q conn=%q", call.TenantID, call.ConnectionID)
	}
	if call.ExternalSessionID != "1728312345.118" {
		t.Errorf("unexpected session id %q", call.ExternalSessionID)
	}
	if call.Direction != models.DirectionInbound {
		t.Errorf("expected inbound, got %q", call.Direction)
	}
	if call.Disposition != "ANSWERED" {
		t.Errorf("disposition not normalized: %q", call.Disposition)
	}
	if !call.IsAnswered() {
		t.Error("expected call to be answered")
	}
	if !call.HasRecording() {
		t.Fatal("expected a recording filename")
	}
	if *call.RecordingFilename != "auto-1728312345-15551234567-2001.wav" {
		t.Errorf("unexpected recording filename %q", *call.RecordingFilename)
	}
	if call.TranscriptStatus != models.ProcessingPending || call.AnalysisStatus != models.ProcessingPending {
		t.Errorf("expected pending stage statuses, got %q/%q", call.TranscriptStatus, call.AnalysisStatus)
	}
	if !ShouldProcess(call) {
		t.Error("expected call to need processing")
	}
	if string(call.RawPayload) != string(raw) {
		t.Error("raw payload not preserved verbatim")
	}
}

func TestParseUnansweredCallSkipsPipeline(t *testing.T) {
	raw := []byte(`{
		"session": "1728312345.119",
		"src": "15551234567",
		"dst": "2001",
		"start": "2026-08-30 14:02:11",
		"end": "2026-08-30 14:02:40",
		"duration": 29,
		"billsec": 0,
		"disposition": "NO ANSWER",
		"src_trunk_name": "sip-provider-1",
		"recordfiles": "auto-1728312345.wav@"
	}`)

	call, err := Parse(raw, testConn)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if call.IsAnswered() {
		t.Fatal("call with no answer time must not be answered")
	}
	if call.TranscriptStatus != models.ProcessingSkipped || call.AnalysisStatus != models.ProcessingSkipped {
		t.Errorf("expected skipped stage statuses, got %q/%q", call.TranscriptStatus, call.AnalysisStatus)
	}
	if ShouldProcess(call) {
		t.Error("unanswered call must not be processed")
	}
}

func TestParseAnsweredCallWithoutRecording(t *testing.T) {
	raw := []byte(`{
		"session": "1728312345.120",
		"src": "2001",
		"dst": "2002",
		"start": "2026-08-30 15:00:00",
		"answer": "2026-08-30 15:00:02",
		"end": "2026-08-30 15:01:00",
		"duration": 60,
		"billsec": 58,
		"disposition": "ANSWERED",
		"recordfiles": ""
	}`)

	call, err := Parse(raw, testConn)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if call.HasRecording() {
		t.Fatal("expected no recording")
	}
	if call.TranscriptStatus != models.ProcessingSkipped || call.AnalysisStatus != models.ProcessingSkipped {
		t.Errorf("expected skipped stage statuses, got %q/%q", call.TranscriptStatus, call.AnalysisStatus)
	}
	if ShouldProcess(call) {
		t.Error("call without recording must not be processed")
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", `{{`, "body"},
		{"missing session", `{"start": "2026-08-30 14:02:11", "end": "2026-08-30 14:02:40"}`, "session"},
		{"blank session", `{"session": "  ", "start": "2026-08-30 14:02:11", "end": "2026-08-30 14:02:40"}`, "session"},
		{"missing start", `{"session": "1.1", "end": "2026-08-30 14:02:40"}`, "start"},
		{"malformed start", `{"session": "1.1", "start": "30/08/2026", "end": "2026-08-30 14:02:40"}`, "start"},
		{"missing end", `{"session": "1.1", "start": "2026-08-30 14:02:11"}`, "end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw), testConn)
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestDetermineDirection(t *testing.T) {
	tests := []struct {
		name        string
		conn        models.Connection
		srcTrunk    string
		dstTrunk    string
		dialContext string
		want        models.CallDirection
	}{
		{"src trunk set", models.Connection{}, "sip-provider-1", "", "", models.DirectionInbound},
		{"src trunk wins over dst trunk", models.Connection{}, "sip-provider-1", "sip-provider-2", "DLPN_Main", models.DirectionInbound},
		{"dst trunk with extension context", models.Connection{}, "", "sip-provider-1", "DLPN_Main", models.DirectionOutbound},
		{"dst trunk context case insensitive", models.Connection{}, "", "sip-provider-1", "dlpn_main", models.DirectionOutbound},
		{"dst trunk with foreign context", models.Connection{}, "", "sip-provider-1", "from-queue", models.DirectionInternal},
		{"no trunks", models.Connection{}, "", "", "", models.DirectionInternal},
		{"no trunks with context", models.Connection{}, "", "", "DLPN_Main", models.DirectionInternal},
		{"whitespace trunks", models.Connection{}, "  ", "  ", "", models.DirectionInternal},
		{
			"configured outbound trunk overrides foreign context",
			models.Connection{OutboundTrunks: []string{"sip-provider-1"}},
			"", "sip-provider-1", "from-queue",
			models.DirectionOutbound,
		},
		{
			"configured inbound trunk matches case insensitively",
			models.Connection{InboundTrunks: []string{"SIP-Provider-1"}},
			"sip-provider-1", "", "",
			models.DirectionInbound,
		},
		{
			"unlisted trunk falls back to the heuristic",
			models.Connection{InboundTrunks: []string{"sip-other"}, OutboundTrunks: []string{"sip-other"}},
			"", "sip-provider-1", "from-queue",
			models.DirectionInternal,
		},
		{
			"configured lists never classify an empty trunk",
			models.Connection{InboundTrunks: []string{""}, OutboundTrunks: []string{" "}},
			"", "", "",
			models.DirectionInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineDirection(tt.conn, tt.srcTrunk, tt.dstTrunk, tt.dialContext)
			if got != tt.want {
				t.Errorf("DetermineDirection(%q, %q, %q) = %q, want %q",
					tt.srcTrunk, tt.dstTrunk, tt.dialContext, got, tt.want)
			}
		})
	}
}

func TestParseUsesConfiguredTrunks(t *testing.T) {
	conn := testConn
	conn.OutboundTrunks = []string{"sip-provider-9"}
	raw := []byte(`{
		"session": "1728312345.300",
		"start": "2026-08-30 14:02:11",
		"end": "2026-08-30 14:02:40",
		"dst_trunk_name": "sip-provider-9",
		"dcontext": "from-queue"
	}`)

	call, err := Parse(raw, conn)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if call.Direction != models.DirectionOutbound {
		t.Errorf("direction = %q, want outbound via configured trunk list", call.Direction)
	}
}

func TestFirstRecordingFile(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"auto-1.wav@", "auto-1.wav"},
		{"auto-1.wav@auto-2.wav@", "auto-1.wav"},
		{"@auto-2.wav", "auto-2.wav"},
		{"", ""},
		{"@@", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := firstRecordingFile(tt.in); got != tt.want {
			t.Errorf("firstRecordingFile(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseRejectsOversizedGarbageGracefully(t *testing.T) {
	// A syntactically valid but alien payload still fails on the required fields.
	raw := []byte(`{"event": "` + strings.Repeat("x", 1024) + `"}`)
	_, err := Parse(raw, testConn)
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
}
