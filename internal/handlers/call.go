package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/authz"
	"github.com/callsight/callsight-api/internal/models"
	"github.com/callsight/callsight-api/internal/repository"
	"github.com/callsight/callsight-api/internal/storage"
)

const signedURLTTL = 15 * time.Minute

type CallHandler struct {
	calls    repository.CallRepository
	jobs     repository.JobRepository
	analyses repository.AnalysisRepository
	store    storage.Store
	logger   zerolog.Logger
}

func NewCallHandler(
	calls repository.CallRepository,
	jobs repository.JobRepository,
	analyses repository.AnalysisRepository,
	store storage.Store,
	logger zerolog.Logger,
) *CallHandler {
	return &CallHandler{
		calls:    calls,
		jobs:     jobs,
		analyses: analyses,
		store:    store,
		logger:   logger.With().Str("handler", "call").Logger(),
	}
}

func (h *CallHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return
	}

	limit, offset := 50, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			offset = v
		}
	}

	calls, err := h.calls.List(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list calls")
		http.Error(w, "failed to list calls", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"calls": calls})
}

func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	call, ok := h.ownedCall(w, r)
	if !ok {
		return
	}

	response := map[string]interface{}{"call": call}
	if call.IsAnalyzed() {
		if analysis, err := h.analyses.GetByCallRecord(r.Context(), call.ID); err == nil {
			response["analysis"] = analysis
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// RecordingURL returns a short-lived signed URL for the stored recording.
func (h *CallHandler) RecordingURL(w http.ResponseWriter, r *http.Request) {
	call, ok := h.ownedCall(w, r)
	if !ok {
		return
	}
	if !call.IsDownloaded() {
		http.Error(w, "recording not available", http.StatusNotFound)
		return
	}

	url, err := h.store.SignedURL(r.Context(), *call.RecordingPath, signedURLTTL)
	if err != nil {
		h.logger.Error().Err(err).Str("call_record_id", call.ID).Msg("failed to sign recording url")
		http.Error(w, "failed to sign url", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Reprocess enqueues a fresh pipeline job for a call, resuming from whatever
// step progress is already persisted. Rejected while a non-terminal job for
// the call is still in the queue.
func (h *CallHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	call, ok := h.ownedCall(w, r)
	if !ok {
		return
	}

	active, err := h.jobs.HasActiveJob(r.Context(), call.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to check active jobs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if active {
		http.Error(w, "a job for this call is already pending or running", http.StatusConflict)
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), call.TenantID, call.ID, models.JobTypeFullPipeline, 1)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to enqueue reprocess job")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// ownedCall loads the call from the path and enforces tenant ownership.
func (h *CallHandler) ownedCall(w http.ResponseWriter, r *http.Request) (models.CallRecord, bool) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return models.CallRecord{}, false
	}

	call, err := h.calls.Get(r.Context(), mux.Vars(r)["callID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "call not found", http.StatusNotFound)
			return models.CallRecord{}, false
		}
		h.logger.Error().Err(err).Msg("failed to load call")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return models.CallRecord{}, false
	}
	if call.TenantID != tenantID {
		http.Error(w, "call not found", http.StatusNotFound)
		return models.CallRecord{}, false
	}
	return call, true
}
