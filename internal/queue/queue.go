// Package queue implements the durable pending write queue.
//
// Compaction policy: a newly enqueued entry supersedes every earlier entry
// for the same entity and user that is not claimed by an in-flight drain.
// The queue therefore holds at most one unclaimed entry per entity and user,
// and only the last write made while offline is ever sent. Claimed entries
// are never removed by compaction; new writes queue behind them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcoot/sideline/internal/dependencies/clock"
	"github.com/mcoot/sideline/internal/dependencies/ids"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/notify"
	"github.com/mcoot/sideline/internal/storage"
)

// Write describes a mutation to enqueue
type Write struct {
	Collection   model.Collection
	EntityID     string
	Operation    model.Operation
	Payload      json.RawMessage
	BaseRevision int64

	// UserID owns the write; empty means anonymous
	UserID string

	// Hold claims the new entry for the caller, which must Withdraw or
	// Requeue it. Held entries are not announced until requeued.
	Hold bool
}

// CommitFunc persists a queue change: put saves entries, remove drops them
type CommitFunc func(put []*model.PendingWrite, remove []string) error

// Queue is the pending write queue. All mutations run under one mutex and
// are written through to the store before they become visible.
type Queue struct {
	mu      sync.Mutex
	store   storage.QueueStore
	clock   clock.Clock
	ids     ids.Generator
	sink    notify.Sink
	logger  *slog.Logger
	loaded  bool
	lastSeq uint64
	claimed map[string]bool
}

// New creates a queue over store
func New(store storage.QueueStore, clk clock.Clock, idGen ids.Generator, sink notify.Sink, logger *slog.Logger) *Queue {
	if sink == nil {
		sink = notify.Nop
	}
	return &Queue{
		store:   store,
		clock:   clk,
		ids:     idGen,
		sink:    sink,
		logger:  logger.With(slog.String("component", "queue")),
		claimed: make(map[string]bool),
	}
}

// load recovers the sequence counter from the store; mu must be held
func (q *Queue) load(ctx context.Context) ([]*model.PendingWrite, error) {
	entries, err := q.store.Entries(ctx)
	if err != nil {
		return nil, err
	}
	if !q.loaded {
		for _, e := range entries {
			if e.Seq > q.lastSeq {
				q.lastSeq = e.Seq
			}
		}
		letters, err := q.store.DeadLetters(ctx)
		if err != nil {
			return nil, err
		}
		for _, dl := range letters {
			if dl.Entry.Seq > q.lastSeq {
				q.lastSeq = dl.Entry.Seq
			}
		}
		q.loaded = true
		if len(entries) > 0 {
			q.logger.Info("recovered pending writes", slog.Int("count", len(entries)))
		}
	}
	return entries, nil
}

// Enqueue appends w, compacting earlier unclaimed entries for the same entity
func (q *Queue) Enqueue(ctx context.Context, w Write) (*model.PendingWrite, error) {
	return q.EnqueueWith(ctx, w, func(put []*model.PendingWrite, remove []string) error {
		return q.store.CommitEntries(ctx, put, remove)
	})
}

// EnqueueWith is Enqueue with the store write delegated to commit, so the
// entry can land in the same local transaction as the record it describes.
// The queue is locked while commit runs; nothing changes if it fails.
func (q *Queue) EnqueueWith(ctx context.Context, w Write, commit CommitFunc) (*model.PendingWrite, error) {
	entries, err := q.EnqueueBatch(ctx, []Write{w}, commit)
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// EnqueueBatch appends ws in order through a single commit. Compaction
// applies across the batch as if each write were enqueued alone.
func (q *Queue) EnqueueBatch(ctx context.Context, ws []Write, commit CommitFunc) ([]*model.PendingWrite, error) {
	for _, w := range ws {
		if !w.Collection.Valid() {
			return nil, fmt.Errorf("enqueue %s: %w", w.Collection, model.ErrInvalidCollection)
		}
		if w.EntityID == "" {
			return nil, fmt.Errorf("enqueue: %w", model.ErrInvalidID)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	now := q.clock.Now()
	seq := q.lastSeq
	gone := make(map[string]bool)
	var superseded []string
	staged := make([]*model.PendingWrite, 0, len(ws))
	holds := make(map[string]bool)

	for _, w := range ws {
		key := model.EntityKey{Collection: w.Collection, ID: w.EntityID}
		for _, e := range entries {
			if e.Key() == key && e.UserID == w.UserID && !q.claimed[e.EntryID] && !gone[e.EntryID] {
				gone[e.EntryID] = true
				superseded = append(superseded, e.EntryID)
			}
		}
		kept := staged[:0]
		for _, e := range staged {
			if e.Key() != key || e.UserID != w.UserID {
				kept = append(kept, e)
			}
		}
		staged = kept

		seq++
		entry := &model.PendingWrite{
			EntryID:      q.ids.NewID(),
			Seq:          seq,
			UserID:       w.UserID,
			Collection:   w.Collection,
			EntityID:     w.EntityID,
			Operation:    w.Operation,
			Payload:      w.Payload,
			BaseRevision: w.BaseRevision,
			EnqueuedAt:   now,
		}
		if w.Operation == model.OperationDelete {
			entry.Payload = nil
		}
		if w.Hold {
			holds[entry.EntryID] = true
		}
		staged = append(staged, entry)
	}

	if err := commit(staged, superseded); err != nil {
		return nil, err
	}
	q.lastSeq = seq

	if len(superseded) > 0 {
		q.logger.Debug("compacted pending writes",
			slog.Int("writes", len(ws)),
			slog.Int("superseded", len(superseded)))
	}
	depth := len(entries) - len(superseded) + len(staged)
	for _, e := range staged {
		if holds[e.EntryID] {
			q.claimed[e.EntryID] = true
			continue
		}
		q.notifyQueued(e, depth)
	}
	return staged, nil
}

// Requeue releases a held entry and announces it as queued
func (q *Queue) Requeue(ctx context.Context, e *model.PendingWrite) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.claimed, e.EntryID)
	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	q.notifyQueued(e, len(entries))
	return nil
}

// Withdraw removes a held entry the caller delivered itself. No event is
// published since the entry was never announced.
func (q *Queue) Withdraw(ctx context.Context, e *model.PendingWrite) error {
	return q.WithdrawWith(ctx, e, func(put []*model.PendingWrite, remove []string) error {
		return q.store.CommitEntries(ctx, put, remove)
	})
}

// WithdrawWith is Withdraw with the store write delegated to commit. If
// commit fails the hold is released so the next drain delivers the entry.
func (q *Queue) WithdrawWith(ctx context.Context, e *model.PendingWrite, commit CommitFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.claimed, e.EntryID)
	return commit(nil, []string{e.EntryID})
}

func (q *Queue) notifyQueued(e *model.PendingWrite, depth int) {
	q.sink.Notify(model.Event{
		Type:       model.EventQueued,
		Timestamp:  e.EnqueuedAt,
		Collection: e.Collection,
		EntityID:   e.EntityID,
		EntryID:    e.EntryID,
		QueueDepth: depth,
	})
}

// Snapshot returns every pending entry in FIFO order
func (q *Queue) Snapshot(ctx context.Context) ([]*model.PendingWrite, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the queue depth
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// HasPending reports whether any entry (claimed or not) targets key
func (q *Queue) HasPending(ctx context.Context, key model.EntityKey) (bool, error) {
	entries, err := q.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

// Acquire claims and returns every entry that nobody else holds, in FIFO
// order
func (q *Queue) Acquire(ctx context.Context) ([]*model.PendingWrite, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	free := entries[:0]
	for _, e := range entries {
		if q.claimed[e.EntryID] {
			continue
		}
		q.claimed[e.EntryID] = true
		free = append(free, e)
	}
	return free, nil
}

// Claim marks entries as held by an in-flight drain so compaction skips them
func (q *Queue) Claim(entryIDs ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range entryIDs {
		q.claimed[id] = true
	}
}

// Release drops claims taken by Claim
func (q *Queue) Release(entryIDs ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range entryIDs {
		delete(q.claimed, id)
	}
}

// Complete removes a confirmed entry
func (q *Queue) Complete(ctx context.Context, e *model.PendingWrite) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CommitEntries(ctx, nil, []string{e.EntryID}); err != nil {
		return err
	}
	delete(q.claimed, e.EntryID)

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	q.sink.Notify(model.Event{
		Type:       model.EventDequeued,
		Timestamp:  q.clock.Now(),
		Collection: e.Collection,
		EntityID:   e.EntityID,
		EntryID:    e.EntryID,
		QueueDepth: len(entries),
	})
	return nil
}

// Update persists attempt bookkeeping for e
func (q *Queue) Update(ctx context.Context, e *model.PendingWrite) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.CommitEntries(ctx, []*model.PendingWrite{e}, nil)
}

// Rebase moves every remaining entry for key that userID's remote will
// receive onto revision, so writes queued behind a just-confirmed entry do
// not conflict with it
func (q *Queue) Rebase(ctx context.Context, key model.EntityKey, userID string, revision int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	var changed []*model.PendingWrite
	for _, e := range entries {
		if e.Key() == key && e.OwnedBy(userID) && e.BaseRevision != revision {
			e.BaseRevision = revision
			changed = append(changed, e)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return q.store.CommitEntries(ctx, changed, nil)
}

// DeadLetter moves e to the dead-letter list
func (q *Queue) DeadLetter(ctx context.Context, e *model.PendingWrite, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	dl := &model.DeadLetter{Entry: *e, Reason: reason, FailedAt: q.clock.Now()}
	if err := q.store.MoveToDeadLetter(ctx, dl); err != nil {
		return err
	}
	delete(q.claimed, e.EntryID)

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	q.logger.Warn("pending write dead-lettered",
		slog.String("entity", e.Key().String()),
		slog.String("entry_id", e.EntryID),
		slog.String("reason", reason))
	q.sink.Notify(model.Event{
		Type:       model.EventDeadLettered,
		Timestamp:  dl.FailedAt,
		Collection: e.Collection,
		EntityID:   e.EntityID,
		EntryID:    e.EntryID,
		QueueDepth: len(entries),
		Message:    reason,
	})
	return nil
}

// DeadLetters lists permanently rejected writes
func (q *Queue) DeadLetters(ctx context.Context) ([]*model.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.DeadLetters(ctx)
}

// RetryDeadLetter re-enqueues a dead letter as the newest write for its entity
func (q *Queue) RetryDeadLetter(ctx context.Context, entryID string) (*model.PendingWrite, error) {
	dl, err := q.findDeadLetter(ctx, entryID)
	if err != nil {
		return nil, err
	}
	entry, err := q.Enqueue(ctx, Write{
		Collection:   dl.Entry.Collection,
		EntityID:     dl.Entry.EntityID,
		Operation:    dl.Entry.Operation,
		Payload:      dl.Entry.Payload,
		BaseRevision: dl.Entry.BaseRevision,
		UserID:       dl.Entry.UserID,
	})
	if err != nil {
		return nil, err
	}
	if err := q.DiscardDeadLetter(ctx, entryID); err != nil {
		return nil, err
	}
	return entry, nil
}

// DiscardDeadLetter drops a dead letter permanently
func (q *Queue) DiscardDeadLetter(ctx context.Context, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.RemoveDeadLetter(ctx, entryID)
}

func (q *Queue) findDeadLetter(ctx context.Context, entryID string) (*model.DeadLetter, error) {
	letters, err := q.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	for _, dl := range letters {
		if dl.Entry.EntryID == entryID {
			return dl, nil
		}
	}
	return nil, model.ErrDeadLetterNotFound
}
