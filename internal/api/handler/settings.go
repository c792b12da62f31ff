package handler

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mcoot/sideline/internal/api/response"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/services/datastore"
)

// SettingsHandler serves the app settings singleton
type SettingsHandler struct {
	store *datastore.Service
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(store *datastore.Service) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// Get handles GET /api/v1/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetAppSettings(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, settings)
}

// Put handles PUT /api/v1/settings
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req model.AppSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	saved, outcome, err := h.store.SaveAppSettings(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, response.WriteStatus(outcome, http.StatusOK), response.Saved[*model.AppSettings]{Data: saved, Outcome: outcome})
}
