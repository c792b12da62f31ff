package storage

// OutcomeKind is how far a write got
type OutcomeKind string

const (
	// OutcomeCommitted means both the local and the remote store hold the write
	OutcomeCommitted OutcomeKind = "committed"
	// OutcomeQueued means the write is local and waits in the pending queue
	OutcomeQueued OutcomeKind = "queued"
	// OutcomeFailed means the write did not reach the local store
	OutcomeFailed OutcomeKind = "failed"
)

// WriteOutcome is the result of a write through the offline cache
type WriteOutcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Committed returns a committed outcome
func Committed() WriteOutcome { return WriteOutcome{Kind: OutcomeCommitted} }

// Queued returns a queued outcome
func Queued() WriteOutcome { return WriteOutcome{Kind: OutcomeQueued} }

// Failed returns a failed outcome carrying err as the reason
func Failed(err error) WriteOutcome {
	return WriteOutcome{Kind: OutcomeFailed, Reason: err.Error()}
}
