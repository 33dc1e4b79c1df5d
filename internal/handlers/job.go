package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/authz"
	"github.com/callsight/callsight-api/internal/models"
	"github.com/callsight/callsight-api/internal/repository"
)

type JobHandler struct {
	repo   repository.JobRepository
	logger zerolog.Logger
}

func NewJobHandler(repo repository.JobRepository, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		repo:   repo,
		logger: logger.With().Str("handler", "job").Logger(),
	}
}

// List returns jobs filtered by status for operational visibility.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return
	}

	status := models.JobStatus(r.URL.Query().Get("status"))
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	jobs, err := h.repo.ListByStatus(r.Context(), tenantID, status, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list jobs")
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}
