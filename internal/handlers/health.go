package handlers

import (
	"database/sql"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/worker"
)

type HealthHandler struct {
	db     *sql.DB
	pool   *worker.Pool
	logger zerolog.Logger
}

func NewHealthHandler(db *sql.DB, pool *worker.Pool, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{db: db, pool: pool, logger: logger.With().Str("handler", "health").Logger()}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("database ping failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}

	response := map[string]interface{}{"status": "ok"}
	if h.pool != nil {
		snapshot, err := h.pool.Snapshot(r.Context())
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to read worker snapshot")
		} else {
			response["worker"] = snapshot
		}
	}
	writeJSON(w, http.StatusOK, response)
}
