package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/authz"
	"github.com/callsight/callsight-api/internal/models"
)

type blobStoreFake struct{}

func (blobStoreFake) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return nil
}

func (blobStoreFake) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }

func (blobStoreFake) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example.com/" + key, nil
}

type analysisStoreFake struct{}

func (analysisStoreFake) Upsert(ctx context.Context, result models.AnalysisResult) (models.AnalysisResult, error) {
	return result, nil
}

func (analysisStoreFake) GetByCallRecord(ctx context.Context, callRecordID string) (models.AnalysisResult, error) {
	return models.AnalysisResult{CallRecordID: callRecordID, Summary: "ok"}, nil
}

func newCallFixture(calls *callStoreFake, jobs *jobStoreFake) *CallHandler {
	return NewCallHandler(calls, jobs, analysisStoreFake{}, blobStoreFake{}, zerolog.Nop())
}

func requestAs(tenantID, method, target string, vars map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(authz.WithTenant(req.Context(), tenantID))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func storedCall(calls *callStoreFake, tenantID string) models.CallRecord {
	call, _ := calls.Create(context.Background(), models.CallRecord{
		TenantID:          tenantID,
		ConnectionID:      "conn-1",
		ExternalSessionID: "sess-1",
	})
	return call
}

func TestReprocessEnqueuesJob(t *testing.T) {
	calls := &callStoreFake{}
	jobs := &jobStoreFake{}
	handler := newCallFixture(calls, jobs)
	call := storedCall(calls, "tenant-1")

	req := requestAs("tenant-1", http.MethodPost, "/api/calls/"+call.ID+"/reprocess", map[string]string{"callID": call.ID})
	rec := httptest.NewRecorder()
	handler.Reprocess(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if jobs.count() != 1 {
		t.Fatalf("jobs = %d, want 1", jobs.count())
	}
	if jobs.jobs[0].Priority != 1 {
		t.Errorf("reprocess job priority = %d, want 1 (ahead of webhook jobs)", jobs.jobs[0].Priority)
	}
}

func TestReprocessRejectsWhileJobActive(t *testing.T) {
	calls := &callStoreFake{}
	jobs := &jobStoreFake{}
	handler := newCallFixture(calls, jobs)
	call := storedCall(calls, "tenant-1")
	jobs.Enqueue(context.Background(), "tenant-1", call.ID, models.JobTypeFullPipeline, 0)

	req := requestAs("tenant-1", http.MethodPost, "/api/calls/"+call.ID+"/reprocess", map[string]string{"callID": call.ID})
	rec := httptest.NewRecorder()
	handler.Reprocess(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if jobs.count() != 1 {
		t.Errorf("jobs = %d, want the single pre-existing job", jobs.count())
	}
}

func TestCallTenantIsolation(t *testing.T) {
	calls := &callStoreFake{}
	jobs := &jobStoreFake{}
	handler := newCallFixture(calls, jobs)
	call := storedCall(calls, "tenant-1")

	req := requestAs("tenant-2", http.MethodGet, "/api/calls/"+call.ID, map[string]string{"callID": call.ID})
	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	// Foreign-tenant lookups are indistinguishable from missing calls.
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRecordingURL(t *testing.T) {
	calls := &callStoreFake{}
	jobs := &jobStoreFake{}
	handler := newCallFixture(calls, jobs)

	path := "tenant-1/2026-08/auto-1.wav"
	call, _ := calls.Create(context.Background(), models.CallRecord{
		TenantID:          "tenant-1",
		ConnectionID:      "conn-1",
		ExternalSessionID: "sess-2",
		RecordingPath:     &path,
	})

	req := requestAs("tenant-1", http.MethodGet, "/api/calls/"+call.ID+"/recording-url", map[string]string{"callID": call.ID})
	rec := httptest.NewRecorder()
	handler.RecordingURL(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "signed.example.com/"+path) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestRecordingURLBeforeDownload(t *testing.T) {
	calls := &callStoreFake{}
	jobs := &jobStoreFake{}
	handler := newCallFixture(calls, jobs)
	call := storedCall(calls, "tenant-1")

	req := requestAs("tenant-1", http.MethodGet, "/api/calls/"+call.ID+"/recording-url", map[string]string{"callID": call.ID})
	rec := httptest.NewRecorder()
	handler.RecordingURL(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before the recording is stored", rec.Code)
	}
}
