package syncer

import "github.com/mcoot/sideline/internal/model"

// Resolution is the outcome of a conflict
type Resolution int

const (
	// KeepLocal overwrites the remote with the queued write
	KeepLocal Resolution = iota
	// KeepRemote drops the queued write and adopts the remote version
	KeepRemote
)

func (r Resolution) String() string {
	if r == KeepLocal {
		return "kept local"
	}
	return "kept remote"
}

// ConflictResolver decides between a queued write and the remote version it
// conflicts with. remote is nil when the remote no longer has the record.
type ConflictResolver interface {
	Resolve(entry *model.PendingWrite, remote *model.Record) Resolution
}

// LastWriterWins keeps whichever side was written later. Ties go to the
// remote. A record the remote no longer has is recreated from the entry.
type LastWriterWins struct{}

// Ensure LastWriterWins implements ConflictResolver
var _ ConflictResolver = LastWriterWins{}

func (LastWriterWins) Resolve(entry *model.PendingWrite, remote *model.Record) Resolution {
	if remote == nil || entry.EnqueuedAt.After(remote.UpdatedAt) {
		return KeepLocal
	}
	return KeepRemote
}
