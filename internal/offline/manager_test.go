package offline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/sideline/internal/connectivity"
	"github.com/mcoot/sideline/internal/dependencies/mocks"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/queue"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/storage/memory"
	"github.com/mcoot/sideline/internal/testutil"
)

const (
	playerA = "aaaaaaaa-0000-4000-8000-000000000001"
	playerB = "bbbbbbbb-0000-4000-8000-000000000002"
)

type authFlag struct {
	signedIn bool
	userID   string
}

func (a *authFlag) AuthState() model.AuthState {
	if !a.signedIn {
		return model.Anonymous
	}
	return model.AuthState{IsAuthenticated: true, UserID: a.userID}
}

// brokenLocal fails every transactional write
type brokenLocal struct {
	*memory.Storage
}

func (b *brokenLocal) WithTransaction(ctx context.Context, fn func(tx storage.LocalTx) error) error {
	return &storage.LocalStorageError{Op: "transaction", Err: errors.New("disk full")}
}

// queueFullLocal fails every queue write made inside a transaction
type queueFullLocal struct {
	*memory.Storage
}

func (q *queueFullLocal) WithTransaction(ctx context.Context, fn func(tx storage.LocalTx) error) error {
	return q.Storage.WithTransaction(ctx, func(tx storage.LocalTx) error {
		return fn(&queueFullTx{LocalTx: tx})
	})
}

type queueFullTx struct {
	storage.LocalTx
}

func (t *queueFullTx) CommitEntries(put []*model.PendingWrite, remove []string) error {
	return &storage.LocalStorageError{Op: "commit queue", Err: errors.New("value log full")}
}

type ManagerSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *mocks.MockClock
	local   *memory.Storage
	backing *memory.Remote
	remote  *testutil.ScriptedRemote
	conn    *connectivity.Switch
	auth    *authFlag
	events  *testutil.EventRecorder
	queue   *queue.Queue
	manager *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = mocks.NewMockClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	s.local = memory.New()
	s.backing = memory.NewRemote(s.clock)
	s.remote = testutil.NewScriptedRemote(s.backing)
	s.conn = connectivity.NewSwitch(true)
	s.auth = &authFlag{signedIn: true, userID: "coach-a"}
	s.events = testutil.NewEventRecorder()
	s.queue = queue.New(s.local, s.clock, mocks.NewMockIDs(), s.events, testutil.NopLogger())
	s.manager = New(s.local, s.remote, s.queue, s.conn, s.auth, s.clock, testutil.NopLogger())
}

func player(id, name string) *model.Record {
	payload, _ := json.Marshal(map[string]string{"id": id, "name": name})
	return &model.Record{Collection: model.CollectionPlayers, ID: id, Payload: payload}
}

func (s *ManagerSuite) queued() []*model.PendingWrite {
	entries, err := s.queue.Snapshot(s.ctx)
	s.Require().NoError(err)
	return entries
}

func (s *ManagerSuite) TestPutOnlineCommitsToBoth() {
	outcome, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)
	s.Equal(storage.OutcomeCommitted, outcome.Kind)

	local, err := s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(int64(1), local.Revision)
	s.Equal(model.ProvenanceRemote, local.Provenance)

	remote, err := s.backing.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.JSONEq(string(local.Payload), string(remote.Payload))
	s.Empty(s.queued())
}

func (s *ManagerSuite) TestPutOfflineQueues() {
	s.conn.Set(false)

	outcome, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	local, err := s.manager.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(model.ProvenanceLocal, local.Provenance)
	s.Equal(int64(0), local.Revision)

	s.Len(s.queued(), 1)
	s.Equal(0, s.remote.TotalCalls())
	s.Equal(1, s.events.Count(model.EventQueued))
}

func (s *ManagerSuite) TestPutAnonymousQueues() {
	s.auth.signedIn = false

	outcome, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)
	s.Equal(0, s.remote.TotalCalls())
}

func (s *ManagerSuite) TestRemoteFailureQueuesInsteadOfFailing() {
	s.remote.FailNext(&storage.TransientSyncError{Op: "put", Err: errors.New("timeout")})

	outcome, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	entries := s.queued()
	s.Require().Len(entries, 1)
	s.Equal(model.OperationUpsert, entries[0].Operation)
	s.Equal(0, s.backing.Len())
}

func (s *ManagerSuite) TestPendingEntityBypassesDirectWrite() {
	s.conn.Set(false)
	_, err := s.manager.Put(s.ctx, player(playerA, "v1"))
	s.Require().NoError(err)
	s.conn.Set(true)

	outcome, err := s.manager.Put(s.ctx, player(playerA, "v2"))
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)
	s.Equal(0, s.remote.TotalCalls())

	entries := s.queued()
	s.Require().Len(entries, 1)
	s.Contains(string(entries[0].Payload), "v2")

	// Other entities still go straight through
	outcome, err = s.manager.Put(s.ctx, player(playerB, "Ben"))
	s.Require().NoError(err)
	s.Equal(storage.OutcomeCommitted, outcome.Kind)
}

func (s *ManagerSuite) TestLocalFailureIsReported() {
	broken := &brokenLocal{Storage: s.local}
	manager := New(broken, s.remote, s.queue, s.conn, s.auth, s.clock, testutil.NopLogger())

	outcome, err := manager.Put(s.ctx, player(playerA, "Ana"))
	s.Error(err)
	s.True(storage.IsLocal(err))
	s.Equal(storage.OutcomeFailed, outcome.Kind)
	s.Contains(outcome.Reason, "disk full")
	s.Equal(0, s.remote.TotalCalls())
	s.Empty(s.queued())
}

func (s *ManagerSuite) TestQueueFailureLeavesRecordUntouched() {
	_, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)

	full := &queueFullLocal{Storage: s.local}
	manager := New(full, s.remote, s.queue, s.conn, s.auth, s.clock, testutil.NopLogger())
	s.conn.Set(false)

	outcome, err := manager.Put(s.ctx, player(playerA, "Ana renamed"))
	s.True(storage.IsLocal(err))
	s.Equal(storage.OutcomeFailed, outcome.Kind)

	outcome, err = manager.Delete(s.ctx, model.CollectionPlayers, playerA)
	s.True(storage.IsLocal(err))
	s.Equal(storage.OutcomeFailed, outcome.Kind)

	local, err := s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Contains(string(local.Payload), `"Ana"`)
	s.Equal(int64(1), local.Revision)
	s.Empty(s.queued())
}

func (s *ManagerSuite) TestQueuedWritesRecordTheirUser() {
	s.conn.Set(false)
	_, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)

	s.auth.signedIn = false
	_, err = s.manager.Put(s.ctx, player(playerB, "Ben"))
	s.Require().NoError(err)

	entries := s.queued()
	s.Require().Len(entries, 2)
	s.Equal("coach-a", entries[0].UserID)
	s.Empty(entries[1].UserID)
}

func (s *ManagerSuite) TestDirectWriteIsHiddenFromDrainWhileInFlight() {
	var visible []*model.PendingWrite
	s.remote.BeforeCall(func(op string) {
		if op == "put_if" {
			var err error
			visible, err = s.queue.Acquire(s.ctx)
			s.Require().NoError(err)
		}
	})

	outcome, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)
	s.Equal(storage.OutcomeCommitted, outcome.Kind)
	s.Empty(visible)
	s.Empty(s.queued())
	s.Zero(s.events.Count(model.EventQueued))
}

func (s *ManagerSuite) TestInvalidKeyFails() {
	outcome, err := s.manager.Put(s.ctx, &model.Record{Collection: "scores", ID: playerA})
	s.ErrorIs(err, model.ErrInvalidCollection)
	s.Equal(storage.OutcomeFailed, outcome.Kind)

	_, err = s.manager.Delete(s.ctx, model.CollectionPlayers, "")
	s.ErrorIs(err, model.ErrInvalidID)
}

func (s *ManagerSuite) TestDeleteOnline() {
	_, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)

	outcome, err := s.manager.Delete(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(storage.OutcomeCommitted, outcome.Kind)

	_, err = s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.ErrorIs(err, model.ErrRecordNotFound)
	s.Equal(0, s.backing.Len())
}

func (s *ManagerSuite) TestDeleteOfflineCompactsUpsert() {
	s.conn.Set(false)
	_, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)

	outcome, err := s.manager.Delete(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	entries := s.queued()
	s.Require().Len(entries, 1)
	s.Equal(model.OperationDelete, entries[0].Operation)
}

func (s *ManagerSuite) TestStaleRevisionConflictQueues() {
	_, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)

	// Another device moves the remote forward
	_, err = s.backing.Put(s.ctx, player(playerA, "Other device"))
	s.Require().NoError(err)

	outcome, err := s.manager.Put(s.ctx, player(playerA, "Ana again"))
	s.Require().NoError(err)
	s.Equal(storage.OutcomeQueued, outcome.Kind)

	entries := s.queued()
	s.Require().Len(entries, 1)
	s.Equal(int64(1), entries[0].BaseRevision)
}

func (s *ManagerSuite) TestAcknowledgeKeepsNewerLocalPayload() {
	s.conn.Set(false)
	_, err := s.manager.Put(s.ctx, player(playerA, "newer"))
	s.Require().NoError(err)

	acked := player(playerA, "older")
	acked.Revision = 4
	s.Require().NoError(s.manager.AcknowledgeRemote(s.ctx, acked))

	local, err := s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(int64(4), local.Revision)
	s.Contains(string(local.Payload), "newer")
	s.Equal(model.ProvenanceLocal, local.Provenance)
}

func (s *ManagerSuite) TestAcknowledgeWithoutPendingAdoptsRemote() {
	_, err := s.local.Put(s.ctx, player(playerA, "sent"))
	s.Require().NoError(err)

	acked := player(playerA, "sent")
	acked.Revision = 2
	s.Require().NoError(s.manager.AcknowledgeRemote(s.ctx, acked))

	local, err := s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(int64(2), local.Revision)
	s.Equal(model.ProvenanceRemote, local.Provenance)
}

func (s *ManagerSuite) TestApplyRemote() {
	rec := player(playerA, "server")
	rec.Revision = 7
	s.Require().NoError(s.manager.ApplyRemote(s.ctx, rec))

	local, err := s.manager.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(int64(7), local.Revision)
	s.Equal(model.ProvenanceRemote, local.Provenance)

	s.Require().NoError(s.manager.ApplyRemoteDelete(s.ctx, model.CollectionPlayers, playerA))
	_, err = s.manager.Get(s.ctx, model.CollectionPlayers, playerA)
	s.ErrorIs(err, model.ErrRecordNotFound)
}

func (s *ManagerSuite) TestPullSkipsPendingEntities() {
	_, err := s.backing.Put(s.ctx, player(playerA, "remote A"))
	s.Require().NoError(err)
	_, err = s.backing.Put(s.ctx, player(playerB, "remote B"))
	s.Require().NoError(err)

	s.conn.Set(false)
	_, err = s.manager.Put(s.ctx, player(playerB, "local B"))
	s.Require().NoError(err)

	applied, err := s.manager.Pull(s.ctx, model.CollectionPlayers)
	s.Require().NoError(err)
	s.Equal(1, applied)

	a, err := s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Contains(string(a.Payload), "remote A")

	b, err := s.local.Get(s.ctx, model.CollectionPlayers, playerB)
	s.Require().NoError(err)
	s.Contains(string(b.Payload), "local B")
}

func (s *ManagerSuite) TestPullRemovesRemotelyDeleted() {
	_, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)
	s.Require().NoError(s.backing.Delete(s.ctx, model.CollectionPlayers, playerA))

	applied, err := s.manager.Pull(s.ctx, model.CollectionPlayers)
	s.Require().NoError(err)
	s.Equal(1, applied)

	_, err = s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.ErrorIs(err, model.ErrRecordNotFound)
}

func (s *ManagerSuite) TestPullKeepsNewerLocalRevision() {
	_, err := s.manager.Put(s.ctx, player(playerA, "v1"))
	s.Require().NoError(err)

	// A write lands locally while the remote read is in flight
	s.remote.BeforeCall(func(op string) {
		if op != "get_all" {
			return
		}
		newer := player(playerA, "v2")
		newer.Revision = 2
		newer.Provenance = model.ProvenanceRemote
		_, err := s.local.Put(s.ctx, newer)
		s.Require().NoError(err)
	})

	applied, err := s.manager.Pull(s.ctx, model.CollectionPlayers)
	s.Require().NoError(err)
	s.Zero(applied)

	local, err := s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(int64(2), local.Revision)
	s.Contains(string(local.Payload), "v2")
}

func (s *ManagerSuite) TestPullWaitsForInFlightWrite() {
	_, err := s.manager.Put(s.ctx, player(playerA, "v1"))
	s.Require().NoError(err)

	done := make(chan struct{})
	s.remote.BeforeCall(func(op string) {
		if op != "get_all" {
			return
		}
		s.remote.BeforeCall(nil)
		go func() {
			defer close(done)
			_, err := s.manager.Put(s.ctx, player(playerA, "v2"))
			s.NoError(err)
		}()
	})

	_, err = s.manager.Pull(s.ctx, model.CollectionPlayers)
	s.Require().NoError(err)
	<-done

	local, err := s.local.Get(s.ctx, model.CollectionPlayers, playerA)
	s.Require().NoError(err)
	s.Equal(int64(2), local.Revision)
	s.Contains(string(local.Payload), "v2")
	s.Empty(s.queued())
}

func (s *ManagerSuite) TestReplaceIsAllOrNothing() {
	_, err := s.manager.Put(s.ctx, player(playerA, "Ana"))
	s.Require().NoError(err)

	full := &queueFullLocal{Storage: s.local}
	manager := New(full, s.remote, s.queue, s.conn, s.auth, s.clock, testutil.NopLogger())
	_, err = manager.Replace(s.ctx, model.CollectionPlayers, []*model.Record{player(playerB, "Ben")})
	s.True(storage.IsLocal(err))

	all, err := s.local.GetAll(s.ctx, model.CollectionPlayers)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(playerA, all[0].ID)

	n, err := s.manager.Replace(s.ctx, model.CollectionPlayers, []*model.Record{player(playerB, "Ben")})
	s.Require().NoError(err)
	s.Equal(2, n)

	all, err = s.local.GetAll(s.ctx, model.CollectionPlayers)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(playerB, all[0].ID)

	entries := s.queued()
	s.Require().Len(entries, 2)
	s.Equal(model.OperationDelete, entries[0].Operation)
	s.Equal(int64(1), entries[0].BaseRevision)
	s.Equal("coach-a", entries[1].UserID)
}

func (s *ManagerSuite) TestReadsNeverTouchRemote() {
	s.remote.FailAlways(&storage.TransientSyncError{Op: "get", Err: errors.New("down")})
	_, err := s.manager.GetAll(s.ctx, model.CollectionPlayers)
	s.NoError(err)
	s.Equal(0, s.remote.TotalCalls())
}
