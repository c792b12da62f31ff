package storage

import (
	"context"

	"github.com/mcoot/sideline/internal/model"
)

// Provider is the capability interface every persistence backend offers
type Provider interface {
	// Name identifies the backend (e.g. "badger", "redis")
	Name() string

	// Get returns model.ErrRecordNotFound when the record is absent
	Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error)
	GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error)

	// Put stores rec and returns the stored version
	Put(ctx context.Context, rec *model.Record) (*model.Record, error)

	// Delete is idempotent; deleting a missing record succeeds
	Delete(ctx context.Context, collection model.Collection, id string) error
}

// LocalTx is the view of the local store inside a multi-key transaction
type LocalTx interface {
	Get(collection model.Collection, id string) (*model.Record, error)
	Put(rec *model.Record) error
	Delete(collection model.Collection, id string) error

	// CommitEntries saves and removes queue entries in the same transaction
	// as the record writes, with QueueStore.CommitEntries semantics
	CommitEntries(put []*model.PendingWrite, remove []string) error
}

// LocalProvider is the durable on-device store. Every operation is durable
// on return; failures are reported as *LocalStorageError.
type LocalProvider interface {
	Provider

	// WithTransaction applies every write made through tx atomically
	WithTransaction(ctx context.Context, fn func(tx LocalTx) error) error
}

// RemoteProvider is the authoritative store. Conditional writes compare the
// stored revision with expected and fail with *ConflictError on mismatch;
// expected == 0 means the record must not exist yet.
type RemoteProvider interface {
	Provider

	PutIf(ctx context.Context, rec *model.Record, expected int64) (*model.Record, error)
	DeleteIf(ctx context.Context, collection model.Collection, id string, expected int64) error
}

// QueueStore persists the pending write queue and the dead-letter list
type QueueStore interface {
	// Entries returns pending writes ordered by Seq
	Entries(ctx context.Context) ([]*model.PendingWrite, error)

	// CommitEntries atomically saves put and removes the entries in remove
	CommitEntries(ctx context.Context, put []*model.PendingWrite, remove []string) error

	DeadLetters(ctx context.Context) ([]*model.DeadLetter, error)

	// MoveToDeadLetter atomically removes the entry and records dl
	MoveToDeadLetter(ctx context.Context, dl *model.DeadLetter) error

	RemoveDeadLetter(ctx context.Context, entryID string) error
}
