package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/callsight/callsight-api/internal/authz"
	"github.com/callsight/callsight-api/internal/handlers"
)

// NewRouter sets up the API routes. The webhook endpoint authenticates with
// per-connection secrets; everything under /api requires a bearer token.
func NewRouter(
	jwtSecret string,
	health *handlers.HealthHandler,
	webhook *handlers.WebhookHandler,
	calls *handlers.CallHandler,
	jobs *handlers.JobHandler,
	connections *handlers.ConnectionHandler,
	tenants *handlers.TenantHandler,
	notifications *handlers.NotificationHandler,
) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", health.Check).Methods(http.MethodGet)

	// PBX-facing ingestion endpoint
	router.HandleFunc("/webhook/cdr/{connectionID}", webhook.ReceiveCDR).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authz.RequireToken(jwtSecret))

	api.HandleFunc("/calls", calls.List).Methods(http.MethodGet)
	api.HandleFunc("/calls/{callID}", calls.Get).Methods(http.MethodGet)
	api.HandleFunc("/calls/{callID}/recording-url", calls.RecordingURL).Methods(http.MethodGet)
	api.HandleFunc("/calls/{callID}/reprocess", calls.Reprocess).Methods(http.MethodPost)

	api.HandleFunc("/jobs", jobs.List).Methods(http.MethodGet)

	api.HandleFunc("/connections", connections.List).Methods(http.MethodGet)
	api.HandleFunc("/connections", connections.Create).Methods(http.MethodPost)
	api.HandleFunc("/connections/{connectionID}", connections.Get).Methods(http.MethodGet)
	api.HandleFunc("/connections/{connectionID}/status", connections.SetStatus).Methods(http.MethodPost)
	api.HandleFunc("/connections/{connectionID}/test", connections.Test).Methods(http.MethodPost)

	api.HandleFunc("/tenants", tenants.Create).Methods(http.MethodPost)
	api.HandleFunc("/tenants/{tenantID}/status", tenants.SetStatus).Methods(http.MethodPost)
	api.HandleFunc("/tenant", tenants.Get).Methods(http.MethodGet)
	api.HandleFunc("/tenant/keywords", tenants.SetKeywords).Methods(http.MethodPut)

	api.HandleFunc("/notifications", notifications.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", notifications.MarkRead).Methods(http.MethodPost)

	return router
}
