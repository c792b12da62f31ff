// Package datastore is the typed capability interface over the offline
// cache. Callers work with domain entities; records, revisions and queueing
// stay behind this boundary.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/mcoot/sideline/internal/connectivity"
	"github.com/mcoot/sideline/internal/dependencies/ids"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/offline"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/syncer"
)

// Identity describes the remote binding
type Identity interface {
	Name() string
	AuthState() model.AuthState
	BreakerState() string
}

// SyncStatus reports drain state
type SyncStatus interface {
	Status() syncer.Status
}

// Status is the combined storage status shown to the user
type Status struct {
	Provider      string     `json:"provider"`
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"userId,omitempty"`
	Online        bool       `json:"online"`
	QueueDepth    int        `json:"queueDepth"`
	DeadLetters   int        `json:"deadLetters"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
	Draining      bool       `json:"draining"`
	Breaker       string     `json:"breaker,omitempty"`
}

// Service is the typed data facade
type Service struct {
	cache    *offline.Manager
	identity Identity
	sync     SyncStatus
	conn     connectivity.Signal
	ids      ids.Generator
	logger   *slog.Logger
}

// New creates a datastore service
func New(cache *offline.Manager, identity Identity, sync SyncStatus, conn connectivity.Signal, idGen ids.Generator, logger *slog.Logger) *Service {
	return &Service{
		cache:    cache,
		identity: identity,
		sync:     sync,
		conn:     conn,
		ids:      idGen,
		logger:   logger.With(slog.String("component", "datastore")),
	}
}

var notFound = map[model.Collection]error{
	model.CollectionPlayers:     model.ErrPlayerNotFound,
	model.CollectionSeasons:     model.ErrSeasonNotFound,
	model.CollectionTournaments: model.ErrTournamentNotFound,
	model.CollectionSavedGames:  model.ErrGameNotFound,
}

// Players

func (s *Service) GetPlayers(ctx context.Context) ([]model.Player, error) {
	return list[model.Player](ctx, s, model.CollectionPlayers)
}

func (s *Service) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return get[model.Player](ctx, s, model.CollectionPlayers, id)
}

// SavePlayer creates the player when ID is empty, otherwise replaces it
func (s *Service) SavePlayer(ctx context.Context, p model.Player) (*model.Player, storage.WriteOutcome, error) {
	if err := s.assignID(&p.ID); err != nil {
		return nil, storage.Failed(err), err
	}
	return save(ctx, s, model.CollectionPlayers, p.ID, p)
}

func (s *Service) DeletePlayer(ctx context.Context, id string) (storage.WriteOutcome, error) {
	return s.remove(ctx, model.CollectionPlayers, id)
}

// Seasons

func (s *Service) GetSeasons(ctx context.Context) ([]model.Season, error) {
	return list[model.Season](ctx, s, model.CollectionSeasons)
}

func (s *Service) GetSeason(ctx context.Context, id string) (*model.Season, error) {
	return get[model.Season](ctx, s, model.CollectionSeasons, id)
}

func (s *Service) SaveSeason(ctx context.Context, season model.Season) (*model.Season, storage.WriteOutcome, error) {
	if err := s.assignID(&season.ID); err != nil {
		return nil, storage.Failed(err), err
	}
	return save(ctx, s, model.CollectionSeasons, season.ID, season)
}

func (s *Service) DeleteSeason(ctx context.Context, id string) (storage.WriteOutcome, error) {
	return s.remove(ctx, model.CollectionSeasons, id)
}

// Tournaments

func (s *Service) GetTournaments(ctx context.Context) ([]model.Tournament, error) {
	return list[model.Tournament](ctx, s, model.CollectionTournaments)
}

func (s *Service) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	return get[model.Tournament](ctx, s, model.CollectionTournaments, id)
}

func (s *Service) SaveTournament(ctx context.Context, t model.Tournament) (*model.Tournament, storage.WriteOutcome, error) {
	if err := s.assignID(&t.ID); err != nil {
		return nil, storage.Failed(err), err
	}
	return save(ctx, s, model.CollectionTournaments, t.ID, t)
}

func (s *Service) DeleteTournament(ctx context.Context, id string) (storage.WriteOutcome, error) {
	return s.remove(ctx, model.CollectionTournaments, id)
}

// Saved games

func (s *Service) GetSavedGames(ctx context.Context) ([]model.SavedGame, error) {
	return list[model.SavedGame](ctx, s, model.CollectionSavedGames)
}

func (s *Service) GetSavedGame(ctx context.Context, id string) (*model.SavedGame, error) {
	return get[model.SavedGame](ctx, s, model.CollectionSavedGames, id)
}

func (s *Service) SaveGame(ctx context.Context, g model.SavedGame) (*model.SavedGame, storage.WriteOutcome, error) {
	if err := s.assignID(&g.ID); err != nil {
		return nil, storage.Failed(err), err
	}
	for i := range g.GameEvents {
		if g.GameEvents[i].ID == "" {
			g.GameEvents[i].ID = s.ids.NewID()
		}
	}
	return save(ctx, s, model.CollectionSavedGames, g.ID, g)
}

func (s *Service) DeleteGame(ctx context.Context, id string) (storage.WriteOutcome, error) {
	return s.remove(ctx, model.CollectionSavedGames, id)
}

// Settings

// GetAppSettings returns the stored settings, or the defaults when none exist
func (s *Service) GetAppSettings(ctx context.Context) (*model.AppSettings, error) {
	settings, err := get[model.AppSettings](ctx, s, model.CollectionAppSettings, model.AppSettingsID)
	if errors.Is(err, model.ErrRecordNotFound) {
		defaults := model.DefaultAppSettings()
		return &defaults, nil
	}
	return settings, err
}

func (s *Service) SaveAppSettings(ctx context.Context, settings model.AppSettings) (*model.AppSettings, storage.WriteOutcome, error) {
	return save(ctx, s, model.CollectionAppSettings, model.AppSettingsID, settings)
}

// GetProviderName returns the active remote provider
func (s *Service) GetProviderName() string {
	return s.identity.Name()
}

// GetStatus reports identity, connectivity and queue state
func (s *Service) GetStatus(ctx context.Context) (*Status, error) {
	q := s.cache.Queue()
	depth, err := q.Len(ctx)
	if err != nil {
		return nil, err
	}
	letters, err := q.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	auth := s.identity.AuthState()
	sync := s.sync.Status()
	return &Status{
		Provider:      s.identity.Name(),
		Authenticated: auth.IsAuthenticated,
		UserID:        auth.UserID,
		Online:        s.conn.Online(),
		QueueDepth:    depth,
		DeadLetters:   len(letters),
		LastSyncAt:    sync.LastSyncAt,
		Draining:      sync.Draining,
		Breaker:       s.identity.BreakerState(),
	}, nil
}

// DeadLetters lists writes the remote permanently rejected
func (s *Service) DeadLetters(ctx context.Context) ([]*model.DeadLetter, error) {
	return s.cache.Queue().DeadLetters(ctx)
}

func (s *Service) assignID(id *string) error {
	if *id == "" {
		*id = s.ids.NewID()
		return nil
	}
	if !ids.Valid(*id) {
		return fmt.Errorf("%q: %w", *id, model.ErrInvalidID)
	}
	return nil
}

func (s *Service) remove(ctx context.Context, c model.Collection, id string) (storage.WriteOutcome, error) {
	if _, err := s.cache.Get(ctx, c, id); err != nil {
		err = translate(c, err)
		return storage.Failed(err), err
	}
	return s.cache.Delete(ctx, c, id)
}

func list[T any](ctx context.Context, s *Service, c model.Collection) ([]T, error) {
	recs, err := s.cache.GetAll(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Payload, &v); err != nil {
			// One corrupt record must not hide the rest
			s.logger.Error("skipping undecodable record",
				slog.String("entity", rec.Key().String()),
				slog.Any("error", err))
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func get[T any](ctx context.Context, s *Service, c model.Collection, id string) (*T, error) {
	rec, err := s.cache.Get(ctx, c, id)
	if err != nil {
		return nil, translate(c, err)
	}
	var v T
	if err := json.Unmarshal(rec.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.Key(), model.ErrInvalidPayload)
	}
	return &v, nil
}

func save[T any](ctx context.Context, s *Service, c model.Collection, id string, v T) (*T, storage.WriteOutcome, error) {
	if err := Validate(v); err != nil {
		return nil, storage.Failed(err), err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, storage.Failed(err), err
	}
	outcome, err := s.cache.Put(ctx, &model.Record{Collection: c, ID: id, Payload: payload})
	if err != nil {
		return nil, outcome, err
	}
	return &v, outcome, nil
}

// translate maps a missing record onto the entity-specific sentinel
func translate(c model.Collection, err error) error {
	if errors.Is(err, model.ErrRecordNotFound) {
		if specific, ok := notFound[c]; ok {
			return specific
		}
	}
	return err
}
