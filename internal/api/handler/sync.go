package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/mcoot/sideline/internal/api/request"
	"github.com/mcoot/sideline/internal/api/response"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/services/datastore"
	"github.com/mcoot/sideline/internal/syncer"
)

// Syncer drains the queue and manages dead letters
type Syncer interface {
	Drain(ctx context.Context) (syncer.Result, error)
	RetryDeadLetter(ctx context.Context, entryID string) (*model.PendingWrite, error)
	DiscardDeadLetter(ctx context.Context, entryID string) error
}

// Identity is the auth-aware router as the API sees it
type Identity interface {
	Name() string
	Providers() []string
	AuthState() model.AuthState
	UpdateAuthState(isAuthenticated bool, userID string) error
	ForceProvider(name string) error
}

// Connectivity is the switch the UI flips to report network state
type Connectivity interface {
	Online() bool
	Set(online bool)
}

// SyncHandler serves status, sync and identity endpoints
type SyncHandler struct {
	store    *datastore.Service
	syncer   Syncer
	identity Identity
	conn     Connectivity
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(store *datastore.Service, s Syncer, identity Identity, conn Connectivity) *SyncHandler {
	return &SyncHandler{store: store, syncer: s, identity: identity, conn: conn}
}

// Status handles GET /api/v1/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.GetStatus(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, status)
}

// Sync handles POST /api/v1/sync. A pass that stopped early still returns
// its result alongside the error code.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Drain(r.Context())
	if errors.Is(err, syncer.ErrOffline) {
		WriteError(w, err)
		return
	}
	if err != nil {
		response.JSON(w, http.StatusAccepted, result)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// UpdateAuth handles PUT /api/v1/auth
func (h *SyncHandler) UpdateAuth(w http.ResponseWriter, r *http.Request) {
	var req request.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	if err := h.identity.UpdateAuthState(req.IsAuthenticated, req.UserID); err != nil {
		WriteError(w, err)
		return
	}
	h.GetAuth(w, r)
}

// GetAuth handles GET /api/v1/auth
func (h *SyncHandler) GetAuth(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, response.Auth{AuthState: h.identity.AuthState(), Provider: h.identity.Name()})
}

// GetProviders handles GET /api/v1/provider
func (h *SyncHandler) GetProviders(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, response.Providers{Active: h.identity.Name(), Available: h.identity.Providers()})
}

// SetProvider handles PUT /api/v1/provider
func (h *SyncHandler) SetProvider(w http.ResponseWriter, r *http.Request) {
	var req request.ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	if req.Name == "" {
		WriteError(w, NewInvalidRequestError("name is required"))
		return
	}
	if err := h.identity.ForceProvider(req.Name); err != nil {
		WriteError(w, err)
		return
	}
	h.GetProviders(w, r)
}

// GetConnectivity handles GET /api/v1/connectivity
func (h *SyncHandler) GetConnectivity(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, response.Connectivity{Online: h.conn.Online()})
}

// SetConnectivity handles PUT /api/v1/connectivity
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req request.ConnectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	h.conn.Set(req.Online)
	response.JSON(w, http.StatusOK, response.Connectivity{Online: h.conn.Online()})
}

// DeadLetters handles GET /api/v1/dead-letters
func (h *SyncHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.store.DeadLetters(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.ListOf(letters))
}

// RetryDeadLetter handles POST /api/v1/dead-letters/{id}/retry
func (h *SyncHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, err := h.syncer.RetryDeadLetter(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, entry)
}

// DiscardDeadLetter handles DELETE /api/v1/dead-letters/{id}
func (h *SyncHandler) DiscardDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.DiscardDeadLetter(r.Context(), mux.Vars(r)["id"]); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}
