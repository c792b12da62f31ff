package model

import (
	"encoding/json"
	"time"
)

// Operation is the kind of mutation a pending write carries
type Operation string

const (
	OperationUpsert Operation = "upsert"
	OperationDelete Operation = "delete"
)

// PendingWrite is a mutation committed locally but not yet confirmed by
// the remote. Seq orders entries FIFO; BaseRevision is the remote revision
// the mutation was made against and acts as the write condition. UserID is
// the identity signed in when the write was made; empty means anonymous.
type PendingWrite struct {
	EntryID       string          `json:"entry_id"`
	Seq           uint64          `json:"seq"`
	UserID        string          `json:"user_id,omitempty"`
	Collection    Collection      `json:"collection"`
	EntityID      string          `json:"entity_id"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	BaseRevision  int64           `json:"base_revision"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// Key returns the entity key the entry targets
func (w *PendingWrite) Key() EntityKey {
	return EntityKey{Collection: w.Collection, ID: w.EntityID}
}

// OwnedBy reports whether the entry may be sent to userID's remote.
// Anonymous entries belong to whoever signs in next.
func (w *PendingWrite) OwnedBy(userID string) bool {
	return w.UserID == "" || w.UserID == userID
}

// DeadLetter is a pending write the remote rejected permanently
type DeadLetter struct {
	Entry    PendingWrite `json:"entry"`
	Reason   string       `json:"reason"`
	FailedAt time.Time    `json:"failed_at"`
}
