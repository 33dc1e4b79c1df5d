package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/authz"
	"github.com/callsight/callsight-api/internal/models"
	"github.com/callsight/callsight-api/internal/pbx"
	"github.com/callsight/callsight-api/internal/repository"
	"github.com/callsight/callsight-api/internal/secrets"
)

type connectionRequest struct {
	Name           string   `json:"name"`
	ProviderType   string   `json:"provider_type"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Username       string   `json:"username"`
	Password       string   `json:"password"`
	InboundTrunks  []string `json:"inbound_trunks"`
	OutboundTrunks []string `json:"outbound_trunks"`
}

type ConnectionHandler struct {
	repo     repository.ConnectionRepository
	box      *secrets.Box
	registry *pbx.Registry
	logger   zerolog.Logger
}

func NewConnectionHandler(repo repository.ConnectionRepository, box *secrets.Box, registry *pbx.Registry, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		repo:     repo,
		box:      box,
		registry: registry,
		logger:   logger.With().Str("handler", "connection").Logger(),
	}
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return
	}

	connections, err := h.repo.List(r.Context(), tid)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list connections")
		http.Error(w, "failed to list connections", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": connections})
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.ownedConnection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// Create registers a PBX connection. The password is sealed before it touches
// the database; the generated webhook token is returned once, here, and never
// again in later reads.
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return
	}

	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Host) == "" ||
		req.Username == "" || req.Password == "" {
		http.Error(w, "name, host, username and password are required", http.StatusBadRequest)
		return
	}
	if _, err := h.registry.For(req.ProviderType); err != nil {
		http.Error(w, "unsupported provider type", http.StatusBadRequest)
		return
	}

	sealed, err := h.box.Seal(req.Password)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to seal pbx credentials")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	port := req.Port
	if port == 0 {
		port = 8089
	}

	created, err := h.repo.Create(r.Context(), models.Connection{
		TenantID:         tid,
		Name:             strings.TrimSpace(req.Name),
		ProviderType:     req.ProviderType,
		Host:             strings.TrimSpace(req.Host),
		Port:             port,
		Username:         req.Username,
		SecretCiphertext: sealed,
		WebhookToken:     uuid.NewString(),
		InboundTrunks:    req.InboundTrunks,
		OutboundTrunks:   req.OutboundTrunks,
		Status:           models.ConnectionStatusActive,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create connection")
		http.Error(w, "failed to create connection", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"connection":    created,
		"webhook_token": created.WebhookToken,
		"webhook_path":  "/webhook/cdr/" + created.ID,
	})
}

// SetStatus enables or disables webhook ingestion for a connection.
func (h *ConnectionHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.ownedConnection(w, r)
	if !ok {
		return
	}

	var req struct {
		Status models.ConnectionStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Status != models.ConnectionStatusActive && req.Status != models.ConnectionStatusDisabled {
		http.Error(w, "status must be active or disabled", http.StatusBadRequest)
		return
	}

	conn.Status = req.Status
	updated, err := h.repo.Update(r.Context(), conn)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to update connection")
		http.Error(w, "failed to update connection", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Test performs a live challenge-response login against the PBX with the
// stored credentials, without touching any recordings.
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.ownedConnection(w, r)
	if !ok {
		return
	}

	secret, err := h.box.Open(conn.SecretCiphertext)
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to decrypt pbx credentials")
		http.Error(w, "stored credentials are unreadable", http.StatusInternalServerError)
		return
	}

	client, err := h.registry.For(conn.ProviderType)
	if err != nil {
		http.Error(w, "unsupported provider type", http.StatusBadRequest)
		return
	}

	if _, err := client.Authenticate(r.Context(), conn, secret); err != nil {
		h.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("connection test failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ConnectionHandler) ownedConnection(w http.ResponseWriter, r *http.Request) (models.Connection, bool) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return models.Connection{}, false
	}

	conn, err := h.repo.Get(r.Context(), mux.Vars(r)["connectionID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "connection not found", http.StatusNotFound)
			return models.Connection{}, false
		}
		h.logger.Error().Err(err).Msg("failed to load connection")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return models.Connection{}, false
	}
	if conn.TenantID != tid {
		http.Error(w, "connection not found", http.StatusNotFound)
		return models.Connection{}, false
	}
	return conn, true
}
