// Package syncer drains the pending write queue into the remote store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"golang.org/x/sync/singleflight"

	"github.com/mcoot/sideline/internal/connectivity"
	"github.com/mcoot/sideline/internal/dependencies/clock"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/notify"
	"github.com/mcoot/sideline/internal/offline"
	"github.com/mcoot/sideline/internal/queue"
	"github.com/mcoot/sideline/internal/storage"
)

var (
	// ErrOffline is returned by Drain when there is no connectivity
	ErrOffline = errors.New("device is offline")

	// ErrIdentityChanged halts a pass when the signed-in user changes under it
	ErrIdentityChanged = errors.New("signed-in user changed during sync")
)

// Result summarises one drain pass. Entry ids are listed in processing order.
type Result struct {
	// Succeeded entries reached the remote, including conflicts resolved in
	// favour of the local write
	Succeeded []string `json:"succeeded"`

	// Failed entries exhausted their transient retries and stay queued
	Failed []string `json:"failed"`

	// DeadLettered entries were permanently rejected
	DeadLettered []string `json:"deadLettered"`

	// Discarded entries lost a conflict to the remote version
	Discarded []string `json:"discarded"`

	// Deferred entries belong to another user and stay queued until that
	// user signs in again
	Deferred []string `json:"deferred"`

	// Remaining is the queue depth after the pass
	Remaining int `json:"remaining"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Halted is set when the pass stopped early
	Halted string `json:"halted,omitempty"`
}

// Status reports the sync manager state
type Status struct {
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	LastResult *Result    `json:"lastResult,omitempty"`
	Draining   bool       `json:"draining"`
}

// Manager drains the queue. Only one pass runs at a time; concurrent
// callers share the result of the pass in flight.
type Manager struct {
	cfg      Config
	cache    *offline.Manager
	queue    *queue.Queue
	remote   storage.RemoteProvider
	conn     connectivity.Signal
	sink     notify.Sink
	clock    clock.Clock
	logger   *slog.Logger
	flight   singleflight.Group
	resolver ConflictResolver

	mu     sync.RWMutex
	status Status

	// waiters counts Drain callers attached to the pass in flight; the pass
	// context is cancelled when the last one gives up
	waitMu     sync.Mutex
	waiters    int
	passCtx    context.Context
	cancelPass context.CancelFunc
}

// New creates a sync manager over cache
func New(cfg Config, cache *offline.Manager, conn connectivity.Signal, sink notify.Sink, clk clock.Clock, logger *slog.Logger) *Manager {
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	if sink == nil {
		sink = notify.Nop
	}
	return &Manager{
		cfg:      cfg,
		cache:    cache,
		queue:    cache.Queue(),
		remote:   cache.Remote(),
		conn:     conn,
		sink:     sink,
		clock:    clk,
		logger:   logger.With(slog.String("component", "syncer")),
		resolver: LastWriterWins{},
	}
}

// SetResolver replaces the conflict resolver
func (m *Manager) SetResolver(r ConflictResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = r
}

// Status returns a snapshot of the manager state
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Drain pushes every queued write owned by the signed-in user to the
// remote. The returned error is set when the pass could not run or stopped
// early (offline, signed out, cancelled, local failure); the result still
// covers what was processed. Concurrent callers share one pass. Each
// caller's ctx bounds only its own wait; the pass itself is cancelled once
// every caller has given up.
func (m *Manager) Drain(ctx context.Context) (Result, error) {
	passCtx := m.join(ctx)
	ch := m.flight.DoChan("drain", func() (any, error) {
		return m.drain(passCtx)
	})

	select {
	case res := <-ch:
		m.leave()
		if res.Shared {
			m.logger.Debug("joined in-flight drain")
		}
		result, _ := res.Val.(Result)
		return result, res.Err
	case <-ctx.Done():
		m.leave()
		return Result{}, ctx.Err()
	}
}

func (m *Manager) join(ctx context.Context) context.Context {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()
	if m.waiters == 0 {
		m.passCtx, m.cancelPass = context.WithCancel(context.WithoutCancel(ctx))
	}
	m.waiters++
	return m.passCtx
}

func (m *Manager) leave() {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()
	m.waiters--
	if m.waiters == 0 {
		m.cancelPass()
	}
}

// RetryDeadLetter moves a dead letter back onto the queue
func (m *Manager) RetryDeadLetter(ctx context.Context, entryID string) (*model.PendingWrite, error) {
	return m.queue.RetryDeadLetter(ctx, entryID)
}

// DiscardDeadLetter drops a dead letter
func (m *Manager) DiscardDeadLetter(ctx context.Context, entryID string) error {
	return m.queue.DiscardDeadLetter(ctx, entryID)
}

// pass holds per-drain bookkeeping
type pass struct {
	owner   model.AuthState
	result  Result
	blocked map[model.EntityKey]bool
	// rebased tracks revisions confirmed during this pass so later snapshot
	// entries for the same entity are sent against the new revision
	rebased map[model.EntityKey]int64
}

func (m *Manager) drain(ctx context.Context) (Result, error) {
	if !m.conn.Online() {
		return Result{}, ErrOffline
	}

	m.setDraining(true)
	defer m.setDraining(false)

	entries, err := m.queue.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	claimed := make([]string, len(entries))
	for i, e := range entries {
		claimed[i] = e.EntryID
	}
	defer m.queue.Release(claimed...)

	p := &pass{
		owner:   m.cache.Identity(),
		result:  Result{StartedAt: m.clock.Now()},
		blocked: make(map[model.EntityKey]bool),
		rebased: make(map[model.EntityKey]int64),
	}
	m.notify(model.Event{Type: model.EventSyncing, QueueDepth: len(entries)})
	m.logger.Info("drain started", slog.Int("entries", len(entries)))

	var haltErr error
	for _, e := range entries {
		if haltErr = m.checkEnvironment(ctx, p); haltErr != nil {
			break
		}
		if !e.OwnedBy(p.owner.UserID) {
			p.result.Deferred = append(p.result.Deferred, e.EntryID)
			continue
		}
		key := e.Key()
		if p.blocked[key] {
			continue
		}
		if rev, ok := p.rebased[key]; ok {
			e.BaseRevision = rev
		}
		if haltErr = m.process(ctx, e, p); haltErr != nil {
			break
		}
	}

	if haltErr == nil && m.cfg.PullAfterDrain {
		settled, err := m.settled(ctx, p.owner.UserID)
		switch {
		case err != nil:
			haltErr = err
		case settled:
			m.pull(ctx)
		}
	}
	return m.finish(ctx, p, haltErr)
}

// settled reports whether the queue holds nothing userID's remote is still
// waiting for
func (m *Manager) settled(ctx context.Context, userID string) (bool, error) {
	entries, err := m.queue.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.OwnedBy(userID) {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) checkEnvironment(ctx context.Context, p *pass) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.conn.Online() {
		return ErrOffline
	}
	if m.cache.Identity() != p.owner {
		return ErrIdentityChanged
	}
	return nil
}

// process sends one entry and records its outcome. A returned error halts
// the pass.
func (m *Manager) process(ctx context.Context, e *model.PendingWrite, p *pass) error {
	acked, err := m.send(ctx, e, false)

	if conflict, ok := storage.AsConflict(err); ok {
		return m.resolve(ctx, e, conflict, p)
	}
	return m.settle(ctx, e, acked, err, p)
}

// settle applies the outcome of a send that is not a conflict
func (m *Manager) settle(ctx context.Context, e *model.PendingWrite, acked *model.Record, err error, p *pass) error {
	key := e.Key()
	switch {
	case err == nil:
		if err := m.confirm(ctx, e, acked, p); err != nil {
			return err
		}
		p.result.Succeeded = append(p.result.Succeeded, e.EntryID)
		return nil

	case ctx.Err() != nil:
		return ctx.Err()

	case storage.IsAuthRequired(err):
		return err

	case storage.IsPermanent(err):
		if err := m.queue.DeadLetter(ctx, e, err.Error()); err != nil {
			return err
		}
		p.result.DeadLettered = append(p.result.DeadLettered, e.EntryID)
		return nil

	default:
		// Transient, or an unclassified failure treated as one
		p.blocked[key] = true
		if err := m.queue.Update(ctx, e); err != nil {
			return err
		}
		p.result.Failed = append(p.result.Failed, e.EntryID)
		m.logger.Warn("pending write still failing",
			slog.String("entity", key.String()),
			slog.String("entry_id", e.EntryID),
			slog.Int("attempts", e.Attempts),
			slog.Any("error", err))
		m.notify(model.Event{
			Type:       model.EventDegraded,
			Collection: e.Collection,
			EntityID:   e.EntityID,
			EntryID:    e.EntryID,
			Message:    err.Error(),
		})
		return nil
	}
}

// send delivers e with backoff on transient failures. force skips the
// revision check. Attempt bookkeeping is recorded on e.
func (m *Manager) send(ctx context.Context, e *model.PendingWrite, force bool) (*model.Record, error) {
	var (
		acked   *model.Record
		lastErr error
	)
	err := retry.Do(
		func() error {
			e.Attempts++
			e.LastAttemptAt = m.clock.Now()
			acked, lastErr = m.sendOnce(ctx, e, force)
			return lastErr
		},
		retry.Attempts(m.cfg.RetryAttempts),
		retry.Delay(m.cfg.RetryBaseDelay),
		retry.MaxDelay(m.cfg.RetryMaxDelay),
		retry.MaxJitter(m.cfg.RetryMaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(storage.IsTransient),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if lastErr == nil && err != nil {
		// Cancelled before the first attempt
		return nil, err
	}
	if lastErr != nil {
		e.LastError = lastErr.Error()
	}
	return acked, lastErr
}

func (m *Manager) sendOnce(ctx context.Context, e *model.PendingWrite, force bool) (*model.Record, error) {
	switch e.Operation {
	case model.OperationUpsert:
		rec := &model.Record{
			Collection: e.Collection,
			ID:         e.EntityID,
			Payload:    e.Payload,
			Revision:   e.BaseRevision,
			UpdatedAt:  e.EnqueuedAt,
		}
		if force {
			return m.remote.Put(ctx, rec)
		}
		return m.remote.PutIf(ctx, rec, e.BaseRevision)
	case model.OperationDelete:
		if force {
			return nil, m.remote.Delete(ctx, e.Collection, e.EntityID)
		}
		return nil, m.remote.DeleteIf(ctx, e.Collection, e.EntityID, e.BaseRevision)
	default:
		return nil, &storage.PermanentSyncError{Op: "sync", Reason: fmt.Sprintf("unknown operation %q", e.Operation)}
	}
}

// confirm removes a delivered entry and moves the entity onto the
// acknowledged revision
func (m *Manager) confirm(ctx context.Context, e *model.PendingWrite, acked *model.Record, p *pass) error {
	if err := m.queue.Complete(ctx, e); err != nil {
		return err
	}
	var revision int64
	if acked != nil {
		revision = acked.Revision
		if err := m.cache.AcknowledgeRemote(ctx, acked); err != nil {
			return err
		}
	}
	p.rebased[e.Key()] = revision
	return m.queue.Rebase(ctx, e.Key(), p.owner.UserID, revision)
}

func (m *Manager) resolve(ctx context.Context, e *model.PendingWrite, conflict *storage.ConflictError, p *pass) error {
	m.mu.RLock()
	resolver := m.resolver
	m.mu.RUnlock()

	resolution := resolver.Resolve(e, conflict.Remote)
	m.logger.Info("resolved sync conflict",
		slog.String("entity", e.Key().String()),
		slog.String("entry_id", e.EntryID),
		slog.Int64("base_revision", e.BaseRevision),
		slog.String("resolution", resolution.String()))

	event := model.Event{
		Type:       model.EventConflictResolved,
		Collection: e.Collection,
		EntityID:   e.EntityID,
		EntryID:    e.EntryID,
		Message:    resolution.String(),
	}

	if resolution == KeepLocal {
		acked, err := m.send(ctx, e, true)
		if err == nil {
			m.notify(event)
		}
		return m.settle(ctx, e, acked, err, p)
	}

	if err := m.queue.Complete(ctx, e); err != nil {
		return err
	}
	if err := m.adoptRemote(ctx, e.Key(), conflict.Remote, p); err != nil {
		return err
	}
	p.result.Discarded = append(p.result.Discarded, e.EntryID)
	m.notify(event)
	return nil
}

// adoptRemote makes the remote version authoritative locally. Writes queued
// after the discarded entry keep their local payload and are rebased.
func (m *Manager) adoptRemote(ctx context.Context, key model.EntityKey, remote *model.Record, p *pass) error {
	var revision int64
	if remote != nil {
		revision = remote.Revision
	}
	p.rebased[key] = revision

	pending, err := m.queue.HasPending(ctx, key)
	if err != nil {
		return err
	}
	if pending {
		return m.queue.Rebase(ctx, key, p.owner.UserID, revision)
	}
	if remote == nil {
		return m.cache.ApplyRemoteDelete(ctx, key.Collection, key.ID)
	}
	return m.cache.ApplyRemote(ctx, remote)
}

// pull refreshes every collection from the remote; failures only log
func (m *Manager) pull(ctx context.Context) {
	for _, c := range model.Collections() {
		n, err := m.cache.Pull(ctx, c)
		if err != nil {
			m.logger.Debug("skipped remote refresh",
				slog.String("collection", string(c)),
				slog.Any("error", err))
			return
		}
		if n > 0 {
			m.logger.Debug("refreshed from remote",
				slog.String("collection", string(c)),
				slog.Int("changes", n))
		}
	}
}

func (m *Manager) finish(ctx context.Context, p *pass, haltErr error) (Result, error) {
	result := p.result
	// Bookkeeping must land even when the pass was cancelled
	remaining, err := m.queue.Len(context.WithoutCancel(ctx))
	if err != nil && haltErr == nil {
		haltErr = err
	}
	result.Remaining = remaining
	result.FinishedAt = m.clock.Now()
	if haltErr != nil {
		result.Halted = haltErr.Error()
	}

	m.mu.Lock()
	finished := result.FinishedAt
	m.status.LastSyncAt = &finished
	m.status.LastResult = &result
	m.mu.Unlock()

	logAttrs := []any{
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
		slog.Int("dead_lettered", len(result.DeadLettered)),
		slog.Int("discarded", len(result.Discarded)),
		slog.Int("deferred", len(result.Deferred)),
		slog.Int("remaining", result.Remaining),
	}
	if haltErr != nil {
		m.logger.Warn("drain halted", append(logAttrs, slog.Any("error", haltErr))...)
		m.notify(model.Event{Type: model.EventDegraded, QueueDepth: remaining, Message: result.Halted})
		return result, haltErr
	}
	m.logger.Info("drain finished", logAttrs...)
	m.notify(model.Event{Type: model.EventSynced, QueueDepth: remaining})
	return result, nil
}

func (m *Manager) setDraining(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Draining = v
}

func (m *Manager) notify(event model.Event) {
	event.Timestamp = m.clock.Now()
	m.sink.Notify(event)
}
