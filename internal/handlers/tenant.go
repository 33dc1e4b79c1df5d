package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/authz"
	"github.com/callsight/callsight-api/internal/models"
	"github.com/callsight/callsight-api/internal/repository"
)

type TenantHandler struct {
	repo   repository.TenantRepository
	logger zerolog.Logger
}

func NewTenantHandler(repo repository.TenantRepository, logger zerolog.Logger) *TenantHandler {
	return &TenantHandler{
		repo:   repo,
		logger: logger.With().Str("handler", "tenant").Logger(),
	}
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		http.Error(w, "tenant name is required", http.StatusBadRequest)
		return
	}

	tenant, err := h.repo.Create(r.Context(), payload.Name)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			http.Error(w, "tenant name already exists", http.StatusConflict)
			return
		}
		h.logger.Error().Err(err).Msg("failed to create tenant")
		http.Error(w, "failed to create tenant", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return
	}

	tenant, err := h.repo.Get(r.Context(), tid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to load tenant")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// SetKeywords replaces the tenant's custom keyword list. The analyzer passes
// these to the AI service with every call so domain terms survive into the
// extracted keywords.
func (h *TenantHandler) SetKeywords(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	keywords := make([]string, 0, len(payload.Keywords))
	for _, kw := range payload.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	if err := h.repo.SetCustomKeywords(r.Context(), tid, keywords); err != nil {
		h.logger.Error().Err(err).Msg("failed to update keywords")
		http.Error(w, "failed to update keywords", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keywords": keywords})
}

// SetStatus suspends or reactivates a tenant. Suspended tenants keep their
// data but webhook deliveries for them are rejected.
func (h *TenantHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantID"]

	var payload struct {
		Status models.TenantStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.Status != models.TenantStatusActive && payload.Status != models.TenantStatusSuspended {
		http.Error(w, "status must be active or suspended", http.StatusBadRequest)
		return
	}

	if err := h.repo.SetStatus(r.Context(), tenantID, payload.Status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to update tenant status")
		http.Error(w, "failed to update tenant status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(payload.Status)})
}
