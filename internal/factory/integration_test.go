package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/services/backup"
	"github.com/mcoot/sideline/internal/storage"
)

type IntegrationSuite struct {
	suite.Suite
	app *TestApp
	ctx context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.app = NewTestApp()
	s.ctx = context.Background()
}

// Test: work done signed out reaches the remote once the user signs in
func (s *IntegrationSuite) TestAnonymousWorkSyncsAfterSignIn() {
	p, outcome, err := s.app.Store.SavePlayer(s.ctx, model.Player{Name: "Aino"})
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	s.Require().NoError(s.app.SignIn("coach-1"))
	result, err := s.app.Syncer.Drain(s.ctx)
	s.Require().NoError(err)
	s.Len(result.Succeeded, 1)
	s.Zero(result.Remaining)

	rec, err := s.app.Remote("coach-1").Get(s.ctx, model.CollectionPlayers, p.ID)
	s.Require().NoError(err)
	s.EqualValues(1, rec.Revision)

	status, err := s.app.Store.GetStatus(s.ctx)
	s.Require().NoError(err)
	s.True(status.Authenticated)
	s.Zero(status.QueueDepth)
	s.NotNil(status.LastSyncAt)
}

// Test: edits made offline collapse to the latest version
func (s *IntegrationSuite) TestOfflineEditsSendOnlyLatest() {
	s.Require().NoError(s.app.SignIn("coach-1"))
	s.app.Connectivity.Set(false)

	season := model.Season{Name: "Spring v1"}
	saved, _, err := s.app.Store.SaveSeason(s.ctx, season)
	s.Require().NoError(err)
	for _, name := range []string{"Spring v2", "Spring v3"} {
		saved.Name = name
		_, outcome, err := s.app.Store.SaveSeason(s.ctx, *saved)
		s.Require().NoError(err)
		s.Equal(storage.OutcomeQueued, outcome.Kind)
	}

	depth, err := s.app.Queue.Len(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, depth)

	s.app.Connectivity.Set(true)
	_, err = s.app.Syncer.Drain(s.ctx)
	s.Require().NoError(err)

	remote := s.app.Remote("coach-1")
	s.Equal(1, remote.Calls("put_if"))
	rec, err := remote.Get(s.ctx, model.CollectionSeasons, saved.ID)
	s.Require().NoError(err)
	s.Contains(string(rec.Payload), "Spring v3")
}

// Test: one user's remote data is never visible to another
func (s *IntegrationSuite) TestUsersAreIsolated() {
	s.Require().NoError(s.app.SignIn("coach-1"))
	p, outcome, err := s.app.Store.SavePlayer(s.ctx, model.Player{Name: "Aino"})
	s.Require().NoError(err)
	s.Equal(storage.OutcomeCommitted, outcome.Kind)

	s.Require().NoError(s.app.SignIn("coach-2"))
	_, err = s.app.Router.Get(s.ctx, model.CollectionPlayers, p.ID)
	s.True(errors.Is(err, model.ErrRecordNotFound))
}

// Test: a remote outage leaves writes queued until the remote recovers
func (s *IntegrationSuite) TestOutageQueuesThenRecovers() {
	s.Require().NoError(s.app.SignIn("coach-1"))
	remote := s.app.Remote("coach-1")
	remote.FailAlways(&storage.TransientSyncError{Op: "put", Err: errors.New("connection refused")})

	_, outcome, err := s.app.Store.SaveTournament(s.ctx, model.Tournament{Name: "Helsinki Cup"})
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	result, err := s.app.Syncer.Drain(s.ctx)
	s.Require().NoError(err)
	s.Len(result.Failed, 1)
	s.Equal(1, result.Remaining)

	remote.FailAlways(nil)
	result, err = s.app.Syncer.Drain(s.ctx)
	s.Require().NoError(err)
	s.Len(result.Succeeded, 1)
	s.Zero(result.Remaining)
}

// Test: a backup imported on one device exports identically
func (s *IntegrationSuite) TestBackupImportExport() {
	doc := &backup.Backup{
		Version: backup.FormatVersion,
		Players: []model.Player{
			{ID: "6a1f7b1e-2c4d-4e5f-8a9b-0c1d2e3f4a5b", Name: "Aino"},
			{ID: "7b2a8c2f-3d5e-4f6a-9b0c-1d2e3f4a5b6c", Name: "Eetu"},
		},
		Seasons: []model.Season{{ID: "8c3b9d3a-4e6f-4a7b-8c1d-2e3f4a5b6c7d", Name: "Spring"}},
	}

	result, err := s.app.Backups.Import(s.ctx, doc)
	s.Require().NoError(err)
	s.Require().True(result.Succeeded(), "import failed: %v", result.Err)

	players, err := s.app.Store.GetPlayers(s.ctx)
	s.Require().NoError(err)
	s.Len(players, 2)

	exported, err := s.app.Backups.Export(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch(doc.Players, exported.Players)
	s.Equal(doc.Seasons, exported.Seasons)

	result, err = s.app.Backups.Reset(s.ctx)
	s.Require().NoError(err)
	s.True(result.Succeeded())
	players, err = s.app.Store.GetPlayers(s.ctx)
	s.Require().NoError(err)
	s.Empty(players)
}

// Test: writes queued under one account are never uploaded to the next
func (s *IntegrationSuite) TestQueuedWritesStayWithTheirAccount() {
	s.Require().NoError(s.app.SignIn("coach-a"))
	s.app.Connectivity.Set(false)
	p, outcome, err := s.app.Store.SavePlayer(s.ctx, model.Player{Name: "Aino"})
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	s.Require().NoError(s.app.Router.UpdateAuthState(false, ""))
	s.Require().NoError(s.app.SignIn("coach-b"))
	s.app.Connectivity.Set(true)

	result, err := s.app.Syncer.Drain(s.ctx)
	s.Require().NoError(err)
	s.Empty(result.Succeeded)
	s.Len(result.Deferred, 1)
	s.Equal(1, result.Remaining)
	s.Zero(s.app.Remote("coach-b").Calls("put_if"))
	s.Zero(s.app.Remote("coach-b").Calls("put"))
	_, err = s.app.Remote("coach-b").Get(s.ctx, model.CollectionPlayers, p.ID)
	s.ErrorIs(err, model.ErrRecordNotFound)

	s.Require().NoError(s.app.SignIn("coach-a"))
	result, err = s.app.Syncer.Drain(s.ctx)
	s.Require().NoError(err)
	s.Len(result.Succeeded, 1)
	s.Zero(result.Remaining)

	rec, err := s.app.Remote("coach-a").Get(s.ctx, model.CollectionPlayers, p.ID)
	s.Require().NoError(err)
	s.Contains(string(rec.Payload), "Aino")
}
