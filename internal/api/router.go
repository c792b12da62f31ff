package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/sideline/internal/api/apierr"
	"github.com/mcoot/sideline/internal/api/handler"
	"github.com/mcoot/sideline/internal/api/sse"
	"github.com/mcoot/sideline/internal/middleware"
	"github.com/mcoot/sideline/internal/services/backup"
	"github.com/mcoot/sideline/internal/services/datastore"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger       *slog.Logger
	Store        *datastore.Service
	Backups      *backup.Service
	Syncer       handler.Syncer
	Identity     handler.Identity
	Connectivity handler.Connectivity
	Transactions handler.Transactions
	Hub          *sse.Hub
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	syncHandler := handler.NewSyncHandler(cfg.Store, cfg.Syncer, cfg.Identity, cfg.Connectivity)
	settingsHandler := handler.NewSettingsHandler(cfg.Store)
	backupHandler := handler.NewBackupHandler(cfg.Backups, cfg.Transactions)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Recovery(cfg.Logger, apiPanicHandler))
	api.Use(middleware.Logging(cfg.Logger))

	// Entity routes
	handler.NewPlayerHandler(cfg.Store).Register(api.PathPrefix("/players").Subrouter())
	handler.NewSeasonHandler(cfg.Store).Register(api.PathPrefix("/seasons").Subrouter())
	handler.NewTournamentHandler(cfg.Store).Register(api.PathPrefix("/tournaments").Subrouter())
	handler.NewGameHandler(cfg.Store).Register(api.PathPrefix("/games").Subrouter())
	api.HandleFunc("/settings", settingsHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/settings", settingsHandler.Put).Methods(http.MethodPut)

	// Sync and identity routes
	api.HandleFunc("/status", syncHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/sync", syncHandler.Sync).Methods(http.MethodPost)
	api.HandleFunc("/auth", syncHandler.GetAuth).Methods(http.MethodGet)
	api.HandleFunc("/auth", syncHandler.UpdateAuth).Methods(http.MethodPut)
	api.HandleFunc("/provider", syncHandler.GetProviders).Methods(http.MethodGet)
	api.HandleFunc("/provider", syncHandler.SetProvider).Methods(http.MethodPut)
	api.HandleFunc("/connectivity", syncHandler.GetConnectivity).Methods(http.MethodGet)
	api.HandleFunc("/connectivity", syncHandler.SetConnectivity).Methods(http.MethodPut)
	api.HandleFunc("/dead-letters", syncHandler.DeadLetters).Methods(http.MethodGet)
	api.HandleFunc("/dead-letters/{id}/retry", syncHandler.RetryDeadLetter).Methods(http.MethodPost)
	api.HandleFunc("/dead-letters/{id}", syncHandler.DiscardDeadLetter).Methods(http.MethodDelete)

	// Bulk routes
	api.HandleFunc("/backup", backupHandler.Export).Methods(http.MethodGet)
	api.HandleFunc("/backup", backupHandler.Import).Methods(http.MethodPost)
	api.HandleFunc("/reset", backupHandler.Reset).Methods(http.MethodPost)
	api.HandleFunc("/transactions", backupHandler.ActiveTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", backupHandler.CancelTransaction).Methods(http.MethodDelete)

	api.HandleFunc("/events", handler.Events(cfg.Hub)).Methods(http.MethodGet)
	api.HandleFunc("/health", handler.Health).Methods(http.MethodGet)

	return r
}

// apiPanicHandler answers a recovered panic with a JSON error
func apiPanicHandler(w http.ResponseWriter, _ *http.Request, _ any) {
	apierr.WriteError(w, apierr.NewInternalError())
}
