package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/sideline/internal/connectivity"
	"github.com/mcoot/sideline/internal/dependencies/mocks"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/offline"
	"github.com/mcoot/sideline/internal/queue"
	"github.com/mcoot/sideline/internal/router"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/storage/memory"
	"github.com/mcoot/sideline/internal/syncer"
	"github.com/mcoot/sideline/internal/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *mocks.MockClock
	ids     *mocks.MockIDs
	conn    *connectivity.Switch
	router  *router.Router
	remote  *memory.Remote
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = mocks.NewMockClock(time.Date(2025, 4, 12, 9, 30, 0, 0, time.UTC))
	s.ids = mocks.NewMockIDs()
	s.conn = connectivity.NewSwitch(true)
	s.remote = memory.NewRemote(s.clock)
	logger := testutil.NopLogger()

	var err error
	s.router, err = router.New("memory", map[string]router.Factory{
		"memory": func(string) (storage.RemoteProvider, error) { return s.remote, nil },
	}, router.DefaultBreakerConfig(), logger)
	s.Require().NoError(err)

	local := memory.New()
	q := queue.New(local, s.clock, s.ids, nil, logger)
	cache := offline.New(local, s.router, q, s.conn, s.router, s.clock, logger)
	sync := syncer.New(syncer.DefaultConfig(), cache, s.conn, nil, s.clock, logger)
	s.service = New(cache, s.router, sync, s.conn, s.ids, logger)
}

func (s *ServiceSuite) TestSavePlayerGeneratesID() {
	s.ids.Queue("3f0c5a52-5f7e-4c43-9a3e-7d2f0a1b2c3d")

	p, outcome, err := s.service.SavePlayer(s.ctx, model.Player{Name: "Aino", JerseyNumber: "7"})
	s.Require().NoError(err)
	s.Equal("3f0c5a52-5f7e-4c43-9a3e-7d2f0a1b2c3d", p.ID)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	got, err := s.service.GetPlayer(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal("Aino", got.Name)

	players, err := s.service.GetPlayers(s.ctx)
	s.Require().NoError(err)
	s.Len(players, 1)
}

func (s *ServiceSuite) TestSaveCommitsWhenSignedIn() {
	s.Require().NoError(s.router.UpdateAuthState(true, "coach-1"))

	_, outcome, err := s.service.SavePlayer(s.ctx, model.Player{Name: "Aino"})
	s.Require().NoError(err)
	s.Equal(storage.OutcomeCommitted, outcome.Kind)
	s.Equal(1, s.remote.Len())
}

func (s *ServiceSuite) TestValidationRejectsBadPayload() {
	_, outcome, err := s.service.SavePlayer(s.ctx, model.Player{JerseyNumber: "1234"})
	s.ErrorIs(err, model.ErrInvalidPayload)
	s.Contains(err.Error(), "Name")
	s.Contains(err.Error(), "JerseyNumber")
	s.Equal(storage.OutcomeFailed, outcome.Kind)

	_, _, err = s.service.SaveGame(s.ctx, model.SavedGame{TeamName: "Hawks", OpponentName: "Owls", HomeOrAway: "neutral"})
	s.ErrorIs(err, model.ErrInvalidPayload)
}

func (s *ServiceSuite) TestRejectsNonUUIDIDs() {
	_, _, err := s.service.SaveSeason(s.ctx, model.Season{ID: "season-1", Name: "Spring"})
	s.ErrorIs(err, model.ErrInvalidID)
}

func (s *ServiceSuite) TestNotFoundUsesEntitySentinel() {
	_, err := s.service.GetPlayer(s.ctx, "3f0c5a52-5f7e-4c43-9a3e-7d2f0a1b2c3d")
	s.ErrorIs(err, model.ErrPlayerNotFound)

	_, err = s.service.GetSavedGame(s.ctx, "3f0c5a52-5f7e-4c43-9a3e-7d2f0a1b2c3d")
	s.ErrorIs(err, model.ErrGameNotFound)

	_, err = s.service.DeleteTournament(s.ctx, "3f0c5a52-5f7e-4c43-9a3e-7d2f0a1b2c3d")
	s.ErrorIs(err, model.ErrTournamentNotFound)
}

func (s *ServiceSuite) TestDeleteSeason() {
	season, _, err := s.service.SaveSeason(s.ctx, model.Season{Name: "Autumn", StartDate: "2025-09-01"})
	s.Require().NoError(err)

	outcome, err := s.service.DeleteSeason(s.ctx, season.ID)
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	seasons, err := s.service.GetSeasons(s.ctx)
	s.Require().NoError(err)
	s.Empty(seasons)
}

func (s *ServiceSuite) TestSaveGameAssignsEventIDs() {
	game, _, err := s.service.SaveGame(s.ctx, model.SavedGame{
		TeamName:     "Hawks",
		OpponentName: "Owls",
		GameEvents:   []model.GameEvent{{Type: model.GameEventGoal, Time: 120}},
	})
	s.Require().NoError(err)
	s.Require().Len(game.GameEvents, 1)
	s.NotEmpty(game.GameEvents[0].ID)

	games, err := s.service.GetSavedGames(s.ctx)
	s.Require().NoError(err)
	s.Len(games, 1)
}

func (s *ServiceSuite) TestAppSettingsDefaultsThenSaves() {
	settings, err := s.service.GetAppSettings(s.ctx)
	s.Require().NoError(err)
	s.Equal(model.DefaultAppSettings(), *settings)

	settings.Language = "fi"
	_, _, err = s.service.SaveAppSettings(s.ctx, *settings)
	s.Require().NoError(err)

	got, err := s.service.GetAppSettings(s.ctx)
	s.Require().NoError(err)
	s.Equal("fi", got.Language)
}

func (s *ServiceSuite) TestGetStatus() {
	_, _, err := s.service.SavePlayer(s.ctx, model.Player{Name: "Aino"})
	s.Require().NoError(err)

	status, err := s.service.GetStatus(s.ctx)
	s.Require().NoError(err)
	s.Equal("memory", status.Provider)
	s.Equal("memory", s.service.GetProviderName())
	s.False(status.Authenticated)
	s.True(status.Online)
	s.Equal(1, status.QueueDepth)
	s.Equal(0, status.DeadLetters)
	s.Nil(status.LastSyncAt)
}
