package handler

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/mcoot/sideline/internal/api/response"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/services/datastore"
	"github.com/mcoot/sideline/internal/storage"
)

// EntityHandler serves CRUD for one entity type
type EntityHandler[T any] struct {
	list   func(ctx context.Context) ([]T, error)
	get    func(ctx context.Context, id string) (*T, error)
	save   func(ctx context.Context, v T) (*T, storage.WriteOutcome, error)
	delete func(ctx context.Context, id string) (storage.WriteOutcome, error)
	idOf   func(v *T) *string
}

// NewPlayerHandler serves /players
func NewPlayerHandler(store *datastore.Service) *EntityHandler[model.Player] {
	return &EntityHandler[model.Player]{
		list: store.GetPlayers, get: store.GetPlayer, save: store.SavePlayer, delete: store.DeletePlayer,
		idOf: func(p *model.Player) *string { return &p.ID },
	}
}

// NewSeasonHandler serves /seasons
func NewSeasonHandler(store *datastore.Service) *EntityHandler[model.Season] {
	return &EntityHandler[model.Season]{
		list: store.GetSeasons, get: store.GetSeason, save: store.SaveSeason, delete: store.DeleteSeason,
		idOf: func(s *model.Season) *string { return &s.ID },
	}
}

// NewTournamentHandler serves /tournaments
func NewTournamentHandler(store *datastore.Service) *EntityHandler[model.Tournament] {
	return &EntityHandler[model.Tournament]{
		list: store.GetTournaments, get: store.GetTournament, save: store.SaveTournament, delete: store.DeleteTournament,
		idOf: func(t *model.Tournament) *string { return &t.ID },
	}
}

// NewGameHandler serves /games
func NewGameHandler(store *datastore.Service) *EntityHandler[model.SavedGame] {
	return &EntityHandler[model.SavedGame]{
		list: store.GetSavedGames, get: store.GetSavedGame, save: store.SaveGame, delete: store.DeleteGame,
		idOf: func(g *model.SavedGame) *string { return &g.ID },
	}
}

// Register mounts the CRUD routes on r
func (h *EntityHandler[T]) Register(r *mux.Router) {
	r.HandleFunc("", h.List).Methods(http.MethodGet)
	r.HandleFunc("", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/{id}", h.Replace).Methods(http.MethodPut)
	r.HandleFunc("/{id}", h.Delete).Methods(http.MethodDelete)
}

// List handles GET /
func (h *EntityHandler[T]) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.list(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.ListOf(items))
}

// Get handles GET /{id}
func (h *EntityHandler[T]) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, v)
}

// Create handles POST /. An id in the body is kept; otherwise one is generated.
func (h *EntityHandler[T]) Create(w http.ResponseWriter, r *http.Request) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	h.write(w, r, v, http.StatusCreated)
}

// Replace handles PUT /{id}
func (h *EntityHandler[T]) Replace(w http.ResponseWriter, r *http.Request) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	id := mux.Vars(r)["id"]
	if bodyID := h.idOf(&v); *bodyID == "" {
		*bodyID = id
	} else if *bodyID != id {
		WriteError(w, NewInvalidRequestError("id in body does not match path"))
		return
	}
	h.write(w, r, v, http.StatusOK)
}

func (h *EntityHandler[T]) write(w http.ResponseWriter, r *http.Request, v T, okStatus int) {
	saved, outcome, err := h.save(r.Context(), v)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, response.WriteStatus(outcome, okStatus), response.Saved[*T]{Data: saved, Outcome: outcome})
}

// Delete handles DELETE /{id}
func (h *EntityHandler[T]) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	outcome, err := h.delete(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, response.WriteStatus(outcome, http.StatusOK), response.Deleted{ID: id, Outcome: outcome})
}
