package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/cdr"
	"github.com/callsight/callsight-api/internal/models"
	"github.com/callsight/callsight-api/internal/repository"
)

// maxWebhookBody caps the CDR payload size; PBX pushes are a few KB.
const maxWebhookBody = 1 << 20

// WebhookHandler accepts CDR completion webhooks from PBX systems. It
// validates, writes the call record, enqueues a pipeline job if the call is
// processable, and returns immediately; all heavy work is deferred to the
// queue.
type WebhookHandler struct {
	calls       repository.CallRepository
	jobs        repository.JobRepository
	connections repository.ConnectionRepository
	tenants     repository.TenantRepository
	logger      zerolog.Logger
}

func NewWebhookHandler(
	calls repository.CallRepository,
	jobs repository.JobRepository,
	connections repository.ConnectionRepository,
	tenants repository.TenantRepository,
	logger zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		calls:       calls,
		jobs:        jobs,
		connections: connections,
		tenants:     tenants,
		logger:      logger.With().Str("handler", "webhook").Logger(),
	}
}

func (h *WebhookHandler) ReceiveCDR(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["connectionID"]

	conn, err := h.connections.Get(r.Context(), connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "unknown connection", http.StatusUnauthorized)
			return
		}
		h.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to load connection")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if !h.authorized(r, conn) {
		h.logger.Warn().Str("connection_id", connectionID).Msg("webhook secret mismatch")
		http.Error(w, "invalid webhook token", http.StatusUnauthorized)
		return
	}

	if !conn.IsActive() {
		http.Error(w, "connection disabled", http.StatusForbidden)
		return
	}
	tenant, err := h.tenants.Get(r.Context(), conn.TenantID)
	if err != nil || !tenant.IsActive() {
		http.Error(w, "tenant suspended", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	call, err := cdr.Parse(body, conn)
	if err != nil {
		var vErr *cdr.ValidationError
		if errors.As(err, &vErr) {
			h.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("rejected malformed cdr payload")
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	created, err := h.calls.Create(r.Context(), call)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Upstream PBX systems buffer and replay deliveries; the same
			// session arriving twice is a success, not an error, and must
			// not produce a second record or job. A replay is also the
			// recovery path for a delivery that persisted the record but
			// failed to enqueue, so re-check the job here.
			resp := map[string]string{"status": "duplicate"}
			if cdr.ShouldProcess(call) {
				if job, ok := h.ensureJob(r.Context(), call); ok {
					resp["job_id"] = job.ID
				}
			}
			h.logger.Debug().
				Str("connection_id", connectionID).
				Str("external_session_id", call.ExternalSessionID).
				Msg("duplicate webhook delivery")
			writeJSON(w, http.StatusOK, resp)
			return
		}
		h.logger.Error().Err(err).Msg("failed to create call record")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if !cdr.ShouldProcess(created) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "call_record_id": created.ID})
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), created.TenantID, created.ID, models.JobTypeFullPipeline, 0)
	if err != nil {
		h.logger.Error().Err(err).Str("call_record_id", created.ID).Msg("failed to enqueue pipeline job")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info().
		Str("call_record_id", created.ID).
		Str("job_id", job.ID).
		Str("direction", string(created.Direction)).
		Msg("cdr accepted")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "accepted",
		"call_record_id": created.ID,
		"job_id":         job.ID,
	})
}

// ensureJob enqueues a pipeline job for a replayed processable call whose
// original delivery created the record but never got a job. Records that
// already progressed, failed (operator reprocess territory), or have a live
// job are left alone.
func (h *WebhookHandler) ensureJob(ctx context.Context, call models.CallRecord) (models.Job, bool) {
	existing, err := h.calls.GetBySession(ctx, call.ConnectionID, call.ExternalSessionID)
	if err != nil {
		h.logger.Error().Err(err).
			Str("external_session_id", call.ExternalSessionID).
			Msg("failed to load replayed call record")
		return models.Job{}, false
	}
	if !cdr.ShouldProcess(existing) || existing.IsAnalyzed() {
		return models.Job{}, false
	}
	if existing.TranscriptStatus == models.ProcessingFailed || existing.AnalysisStatus == models.ProcessingFailed {
		return models.Job{}, false
	}
	active, err := h.jobs.HasActiveJob(ctx, existing.ID)
	if err != nil || active {
		return models.Job{}, false
	}
	job, err := h.jobs.Enqueue(ctx, existing.TenantID, existing.ID, models.JobTypeFullPipeline, 0)
	if err != nil {
		h.logger.Error().Err(err).Str("call_record_id", existing.ID).Msg("failed to enqueue job on replayed delivery")
		return models.Job{}, false
	}
	h.logger.Info().
		Str("call_record_id", existing.ID).
		Str("job_id", job.ID).
		Msg("replayed delivery enqueued missing pipeline job")
	return job, true
}

// authorized checks the per-connection shared secret, passed either as a
// query parameter or a header. Constant-time compare.
func (h *WebhookHandler) authorized(r *http.Request, conn models.Connection) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Webhook-Token")
	}
	if token == "" || conn.WebhookToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(conn.WebhookToken)) == 1
}
