// Package offline implements the offline-first cache in front of the
// remote store. Reads never leave the device; writes land locally first and
// reach the remote directly when possible, otherwise through the queue.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcoot/sideline/internal/connectivity"
	"github.com/mcoot/sideline/internal/dependencies/clock"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/queue"
	"github.com/mcoot/sideline/internal/storage"
)

// AuthReporter reports the identity writes are made under
type AuthReporter interface {
	AuthState() model.AuthState
}

// Manager is the offline cache manager
type Manager struct {
	mu     sync.Mutex
	local  storage.LocalProvider
	remote storage.RemoteProvider
	queue  *queue.Queue
	conn   connectivity.Signal
	auth   AuthReporter
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a manager
func New(
	local storage.LocalProvider,
	remote storage.RemoteProvider,
	q *queue.Queue,
	conn connectivity.Signal,
	auth AuthReporter,
	clk clock.Clock,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		local:  local,
		remote: remote,
		queue:  q,
		conn:   conn,
		auth:   auth,
		clock:  clk,
		logger: logger.With(slog.String("component", "offline")),
	}
}

// Local returns the local provider
func (m *Manager) Local() storage.LocalProvider { return m.local }

// Remote returns the remote provider
func (m *Manager) Remote() storage.RemoteProvider { return m.remote }

// Queue returns the pending write queue
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Get reads from the local store
func (m *Manager) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	if !collection.Valid() {
		return nil, model.ErrInvalidCollection
	}
	return m.local.Get(ctx, collection, id)
}

// GetAll reads a whole collection from the local store
func (m *Manager) GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error) {
	if !collection.Valid() {
		return nil, model.ErrInvalidCollection
	}
	return m.local.GetAll(ctx, collection)
}

// Identity returns the identity new writes are stamped with
func (m *Manager) Identity() model.AuthState { return m.auth.AuthState() }

// Put commits rec locally, then sends it to the remote or queues it. A
// remote failure is never reported to the caller; it yields a queued
// outcome instead.
func (m *Manager) Put(ctx context.Context, rec *model.Record) (storage.WriteOutcome, error) {
	if err := checkKey(rec.Collection, rec.ID); err != nil {
		return storage.Failed(err), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	revision, err := m.localRevision(ctx, rec.Collection, rec.ID)
	if err != nil {
		return m.localFailure("put", err)
	}
	stored := rec.Clone()
	stored.Revision = revision
	stored.UpdatedAt = m.clock.Now()
	stored.Provenance = model.ProvenanceLocal

	write := queue.Write{
		Collection:   stored.Collection,
		EntityID:     stored.ID,
		Operation:    model.OperationUpsert,
		Payload:      stored.Payload,
		BaseRevision: stored.Revision,
	}
	apply := func(tx storage.LocalTx) error { return tx.Put(stored) }
	return m.commit(ctx, "put", write, apply, func(ctx context.Context) (*model.Record, error) {
		return m.remote.PutIf(ctx, stored, stored.Revision)
	})
}

// Delete removes the record locally, then from the remote or via the queue
func (m *Manager) Delete(ctx context.Context, collection model.Collection, id string) (storage.WriteOutcome, error) {
	if err := checkKey(collection, id); err != nil {
		return storage.Failed(err), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	base, err := m.localRevision(ctx, collection, id)
	if err != nil {
		return m.localFailure("delete", err)
	}

	write := queue.Write{
		Collection:   collection,
		EntityID:     id,
		Operation:    model.OperationDelete,
		BaseRevision: base,
	}
	apply := func(tx storage.LocalTx) error { return tx.Delete(collection, id) }
	return m.commit(ctx, "delete", write, apply, func(ctx context.Context) (*model.Record, error) {
		return nil, m.remote.DeleteIf(ctx, collection, id, base)
	})
}

// Replace makes collection hold exactly want. The record changes and their
// queue entries land in one local transaction, so a failure changes
// nothing. Changes are always queued for the next drain.
func (m *Manager) Replace(ctx context.Context, collection model.Collection, want []*model.Record) (int, error) {
	if !collection.Valid() {
		return 0, fmt.Errorf("%q: %w", collection, model.ErrInvalidCollection)
	}
	for _, rec := range want {
		if rec.ID == "" {
			return 0, model.ErrInvalidID
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.local.GetAll(ctx, collection)
	if err != nil {
		return 0, asLocal("replace", err)
	}
	revisions := make(map[string]int64, len(current))
	for _, rec := range current {
		revisions[rec.ID] = rec.Revision
	}
	keep := make(map[string]bool, len(want))
	for _, rec := range want {
		keep[rec.ID] = true
	}

	userID := m.auth.AuthState().UserID
	now := m.clock.Now()
	var (
		writes  []queue.Write
		removed []string
		stored  []*model.Record
	)
	for _, rec := range current {
		if keep[rec.ID] {
			continue
		}
		removed = append(removed, rec.ID)
		writes = append(writes, queue.Write{
			Collection:   collection,
			EntityID:     rec.ID,
			Operation:    model.OperationDelete,
			BaseRevision: rec.Revision,
			UserID:       userID,
		})
	}
	for _, rec := range want {
		s := &model.Record{
			Collection: collection,
			ID:         rec.ID,
			Payload:    rec.Payload,
			Revision:   revisions[rec.ID],
			UpdatedAt:  now,
			Provenance: model.ProvenanceLocal,
		}
		stored = append(stored, s)
		writes = append(writes, queue.Write{
			Collection:   collection,
			EntityID:     s.ID,
			Operation:    model.OperationUpsert,
			Payload:      s.Payload,
			BaseRevision: s.Revision,
			UserID:       userID,
		})
	}
	if len(writes) == 0 {
		return 0, nil
	}

	_, err = m.queue.EnqueueBatch(ctx, writes, func(put []*model.PendingWrite, remove []string) error {
		return m.local.WithTransaction(ctx, func(tx storage.LocalTx) error {
			for _, id := range removed {
				if err := tx.Delete(collection, id); err != nil {
					return err
				}
			}
			for _, rec := range stored {
				if err := tx.Put(rec); err != nil {
					return err
				}
			}
			return tx.CommitEntries(put, remove)
		})
	})
	if err != nil {
		err = asLocal("replace", err)
		m.logger.Error("local replace failed", slog.String("collection", string(collection)), slog.Any("error", err))
		return 0, err
	}
	return len(writes), nil
}

func (m *Manager) localRevision(ctx context.Context, collection model.Collection, id string) (int64, error) {
	existing, err := m.local.Get(ctx, collection, id)
	if errors.Is(err, model.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return existing.Revision, nil
}

// commit applies a local change and its queue entry in one transaction.
// When the device is online, signed in and nothing is queued ahead for the
// entity, the entry is held and delivered directly; on success it is
// withdrawn, otherwise it is released to the queue. mu must be held.
func (m *Manager) commit(
	ctx context.Context,
	op string,
	w queue.Write,
	apply func(tx storage.LocalTx) error,
	send func(context.Context) (*model.Record, error),
) (storage.WriteOutcome, error) {
	key := model.EntityKey{Collection: w.Collection, ID: w.EntityID}
	identity := m.auth.AuthState()
	w.UserID = identity.UserID
	w.Hold = m.canSendDirect(ctx, key, identity)

	entry, err := m.queue.EnqueueWith(ctx, w, func(put []*model.PendingWrite, remove []string) error {
		return m.local.WithTransaction(ctx, func(tx storage.LocalTx) error {
			if err := apply(tx); err != nil {
				return err
			}
			return tx.CommitEntries(put, remove)
		})
	})
	if err != nil {
		return m.localFailure(op, err)
	}
	if !w.Hold {
		return storage.Queued(), nil
	}

	acked, err := send(ctx)
	if err != nil {
		m.logger.Info("direct remote write failed; queueing",
			slog.String("entity", key.String()),
			slog.String("operation", string(w.Operation)),
			slog.Any("error", err))
		if err := m.queue.Requeue(ctx, entry); err != nil {
			m.logger.Error("failed to release held write", slog.String("entry_id", entry.EntryID), slog.Any("error", err))
		}
		return storage.Queued(), nil
	}

	err = m.queue.WithdrawWith(ctx, entry, func(put []*model.PendingWrite, remove []string) error {
		return m.local.WithTransaction(ctx, func(tx storage.LocalTx) error {
			if acked != nil {
				stored := acked.Clone()
				stored.Provenance = model.ProvenanceRemote
				if err := tx.Put(stored); err != nil {
					return err
				}
			}
			return tx.CommitEntries(put, remove)
		})
	})
	if err != nil {
		// The remote holds the write; the leftover entry resolves against it
		// on the next drain.
		m.logger.Error("failed to record remote acknowledgement",
			slog.String("entity", key.String()),
			slog.Any("error", err))
	}
	return storage.Committed(), nil
}

func (m *Manager) canSendDirect(ctx context.Context, key model.EntityKey, identity model.AuthState) bool {
	if !m.conn.Online() || !identity.IsAuthenticated {
		return false
	}
	pending, err := m.queue.HasPending(ctx, key)
	return err == nil && !pending
}

// ApplyRemote stores a remote version locally, replacing any local state
func (m *Manager) ApplyRemote(ctx context.Context, rec *model.Record) error {
	stored := rec.Clone()
	stored.Provenance = model.ProvenanceRemote

	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.local.Put(ctx, stored)
	return err
}

// ApplyRemoteDelete removes a record the remote no longer has
func (m *Manager) ApplyRemoteDelete(ctx context.Context, collection model.Collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local.Delete(ctx, collection, id)
}

// AcknowledgeRemote records that the remote accepted a queued upsert. When
// newer writes for the entity are still queued only the revision moves, so
// the newer local payload is kept.
func (m *Manager) AcknowledgeRemote(ctx context.Context, acked *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.queue.HasPending(ctx, acked.Key())
	if err != nil {
		return err
	}

	return m.local.WithTransaction(ctx, func(tx storage.LocalTx) error {
		existing, err := tx.Get(acked.Collection, acked.ID)
		if errors.Is(err, model.ErrRecordNotFound) {
			// Deleted locally after the upsert was queued; the queued
			// delete will follow.
			return nil
		}
		if err != nil {
			return err
		}
		if pending {
			existing.Revision = acked.Revision
			return tx.Put(existing)
		}
		stored := acked.Clone()
		stored.Provenance = model.ProvenanceRemote
		return tx.Put(stored)
	})
}

// Pull copies a remote collection into the local store. Entities with
// queued writes are skipped since their local state is newer, as are remote
// records older than the local revision. Records the remote has dropped are
// removed locally unless they were written locally.
func (m *Manager) Pull(ctx context.Context, collection model.Collection) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	remoteRecs, err := m.remote.GetAll(ctx, collection)
	if err != nil {
		return 0, err
	}

	entries, err := m.queue.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	pending := make(map[model.EntityKey]bool, len(entries))
	for _, e := range entries {
		pending[e.Key()] = true
	}

	localRecs, err := m.local.GetAll(ctx, collection)
	if err != nil {
		return 0, err
	}
	localRevs := make(map[string]int64, len(localRecs))
	for _, rec := range localRecs {
		localRevs[rec.ID] = rec.Revision
	}

	seen := make(map[string]bool, len(remoteRecs))
	applied := 0
	err = m.local.WithTransaction(ctx, func(tx storage.LocalTx) error {
		for _, rec := range remoteRecs {
			seen[rec.ID] = true
			if pending[rec.Key()] {
				continue
			}
			if rev, ok := localRevs[rec.ID]; ok && rev > rec.Revision {
				continue
			}
			stored := rec.Clone()
			stored.Provenance = model.ProvenanceRemote
			if err := tx.Put(stored); err != nil {
				return err
			}
			applied++
		}
		for _, rec := range localRecs {
			if seen[rec.ID] || pending[rec.Key()] || rec.Provenance != model.ProvenanceRemote {
				continue
			}
			if err := tx.Delete(rec.Collection, rec.ID); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// localFailure reports a write that never reached durable local state
func (m *Manager) localFailure(op string, err error) (storage.WriteOutcome, error) {
	err = asLocal(op, err)
	m.logger.Error("local write failed", slog.String("op", op), slog.Any("error", err))
	return storage.Failed(err), err
}

func asLocal(op string, err error) error {
	if storage.IsLocal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &storage.LocalStorageError{Op: op, Err: err}
}

func checkKey(collection model.Collection, id string) error {
	if !collection.Valid() {
		return fmt.Errorf("%q: %w", collection, model.ErrInvalidCollection)
	}
	if id == "" {
		return model.ErrInvalidID
	}
	return nil
}
